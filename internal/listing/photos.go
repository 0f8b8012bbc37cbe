package listing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/security"
)

// 写真の保存元（メトリクスのラベル）
const (
	PhotoSourceUpload = "upload"
	PhotoSourceImport = "import"
)

// ObjectStore はオブジェクトストレージへの書き込みを行う。
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// PhotoImporter は物件写真をオブジェクトストレージに保存する。
// URLインポートはSSRF防止機能付きのHTTPクライアントで取得する。
type PhotoImporter struct {
	store   ObjectStore
	bucket  string
	guard   security.SSRFGuardService
	client  *http.Client
	maxSize int64
}

// NewPhotoImporter はPhotoImporterを生成する。
func NewPhotoImporter(store ObjectStore, bucket string, guard security.SSRFGuardService, timeout time.Duration, maxSize int64) *PhotoImporter {
	return &PhotoImporter{
		store:   store,
		bucket:  bucket,
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		maxSize: maxSize,
	}
}

// UploadPhoto はアップロードされた画像を保存する。形式は内容から判定する。
func (s *Service) UploadPhoto(ctx context.Context, callerID, propertyID string, r io.Reader) (*model.PropertyPhoto, error) {
	if s.importer == nil {
		return nil, storageUnavailableError()
	}
	if _, err := s.ownedProperty(ctx, callerID, propertyID); err != nil {
		return nil, err
	}

	data, err := readLimited(r, s.importer.maxSize)
	if err != nil {
		return nil, err
	}
	contentType := http.DetectContentType(data)
	if !isImage(contentType) {
		return nil, invalidImageError("画像ファイルを指定してください。")
	}

	return s.storePhoto(ctx, propertyID, data, contentType, PhotoSourceUpload)
}

// ImportPhoto は指定URLの画像を取得して保存する。
// 内部ネットワーク宛てのURL、画像以外のContent-Type、上限を超えるサイズは拒否する。
func (s *Service) ImportPhoto(ctx context.Context, callerID, propertyID, rawURL string) (*model.PropertyPhoto, error) {
	if s.importer == nil {
		return nil, storageUnavailableError()
	}
	if _, err := s.ownedProperty(ctx, callerID, propertyID); err != nil {
		return nil, err
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.NewMissingFieldsError([]string{"url"})
	}
	if err := s.importer.guard.ValidateURL(rawURL); err != nil {
		return nil, model.NewValidationError(model.ErrCodePhotoFetchFailed,
			fmt.Sprintf("このURLからは取得できません: %v", err), "url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewValidationError(model.ErrCodePhotoFetchFailed, "URLの形式が不正です。", "url")
	}
	resp, err := s.importer.client.Do(req)
	if err != nil {
		slog.Warn("photo import fetch failed",
			slog.String("property_id", propertyID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewValidationError(model.ErrCodePhotoFetchFailed, "画像を取得できませんでした。", "url")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewValidationError(model.ErrCodePhotoFetchFailed,
			fmt.Sprintf("画像の取得に失敗しました: status %d", resp.StatusCode), "url")
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !isImage(mediaType) {
		return nil, invalidImageError("URLの内容が画像ではありません。")
	}
	if resp.ContentLength > s.importer.maxSize {
		return nil, invalidImageError(fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", s.importer.maxSize))
	}

	data, err := readLimited(resp.Body, s.importer.maxSize)
	if err != nil {
		return nil, err
	}
	return s.storePhoto(ctx, propertyID, data, mediaType, PhotoSourceImport)
}

func (s *Service) storePhoto(ctx context.Context, propertyID string, data []byte, contentType, source string) (*model.PropertyPhoto, error) {
	id := uuid.New().String()
	key := fmt.Sprintf("properties/%s/%s%s", propertyID, id, imageExtensions[contentType])

	if err := s.importer.store.PutObject(ctx, s.importer.bucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		slog.Error("photo upload failed",
			slog.String("property_id", propertyID),
			slog.String("bucket", s.importer.bucket),
			slog.String("error", err.Error()),
		)
		return nil, storageUnavailableError()
	}

	photo := &model.PropertyPhoto{
		ID:          id,
		PropertyID:  propertyID,
		ObjectKey:   key,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		CreatedAt:   s.now(),
	}
	if err := s.photos.Create(ctx, photo); err != nil {
		return nil, fmt.Errorf("写真情報の保存に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordPhotoStored(source)
	}
	slog.Info("property photo stored",
		slog.String("property_id", propertyID),
		slog.String("object_key", key),
		slog.String("source", source),
	)
	return photo, nil
}

// readLimited はmaxバイトまで読み込む。超えた場合と空の場合はinvalid_image。
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, model.NewValidationError(model.ErrCodePhotoFetchFailed, "画像の読み込みに失敗しました。")
	}
	if int64(len(data)) > max {
		return nil, invalidImageError(fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", max))
	}
	if len(data) == 0 {
		return nil, invalidImageError("画像が空です。")
	}
	return data, nil
}

func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func invalidImageError(message string) *model.APIError {
	return model.NewValidationError(model.ErrCodeInvalidImage, message, "file")
}

func storageUnavailableError() *model.APIError {
	return &model.APIError{
		Kind:     model.KindUnavailable,
		Code:     model.ErrCodeStorageUnavailable,
		Message:  "写真の保存先に接続できません。",
		Category: "listing",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
