package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusnest/internal/listing"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
)

// multipartOverhead はマルチパートのヘッダー分としてファイル上限に上乗せするバイト数。
const multipartOverhead = 1 << 20

// ListingServiceInterface は物件ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	CreateDraft(ctx context.Context, callerID string) (*model.Property, error)
	Get(ctx context.Context, callerID, propertyID string) (*listing.PropertyDetail, error)
	Publish(ctx context.Context, callerID, propertyID string) (*model.Property, error)
	LoadStep(ctx context.Context, callerID, propertyID, step string) (map[string]interface{}, error)
	SaveStep(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}, trigger string) error
	EnqueueDraft(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}) error
	FlushDraft(ctx context.Context, callerID, propertyID string) error
	UploadPhoto(ctx context.Context, callerID, propertyID string, r io.Reader) (*model.PropertyPhoto, error)
	ImportPhoto(ctx context.Context, callerID, propertyID, rawURL string) (*model.PropertyPhoto, error)
	Search(ctx context.Context, query string) ([]model.PropertySummary, error)
}

// PropertyHandler は物件掲載ウィザードのHTTPハンドラー。
type PropertyHandler struct {
	service      ListingServiceInterface
	maxPhotoSize int64
}

// NewPropertyHandler はPropertyHandlerを生成する。
func NewPropertyHandler(service ListingServiceInterface, maxPhotoSize int64) *PropertyHandler {
	return &PropertyHandler{service: service, maxPhotoSize: maxPhotoSize}
}

type saveStepRequest struct {
	Values  map[string]interface{} `json:"values"`
	Trigger string                 `json:"trigger"`
}

type draftRequest struct {
	Step   string                 `json:"step"`
	Values map[string]interface{} `json:"values"`
}

type importPhotoRequest struct {
	URL string `json:"url"`
}

type stepValuesResponse struct {
	Step   string                 `json:"step"`
	Values map[string]interface{} `json:"values"`
}

// Create は下書き物件を作成する。
// POST /api/properties
func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.CreateDraft(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID})
}

// Get は物件の列・属性・写真を返す。
// GET /api/properties/{id}
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyDetailResponse(detail))
}

// Publish は物件を公開する。
// POST /api/properties/{id}/publish
func (h *PropertyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Publish(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyResponse(p))
}

// LoadStep はステップの保存済みの値を返す。
// GET /api/properties/{id}/steps/{step}
func (h *PropertyHandler) LoadStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	step := chi.URLParam(r, "step")
	values, err := h.service.LoadStep(r.Context(), userID, chi.URLParam(r, "id"), step)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stepValuesResponse{Step: step, Values: values})
}

// SaveStep はステップの値を即時保存する。
// PUT /api/properties/{id}/steps/{step}
func (h *PropertyHandler) SaveStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req saveStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SaveStep(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "step"), req.Values, req.Trigger); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// EnqueueDraft は自動保存キューに値を積む。書き込みはdebounce後に行う。
// PATCH /api/properties/{id}/draft
func (h *PropertyHandler) EnqueueDraft(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Step == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError([]string{"step"}))
		return
	}

	if err := h.service.EnqueueDraft(r.Context(), userID, chi.URLParam(r, "id"), req.Step, req.Values); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// FlushDraft は物件の保留中の自動保存を同期的に書き込む。
// POST /api/properties/{id}/draft/flush
func (h *PropertyHandler) FlushDraft(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.FlushDraft(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UploadPhoto はマルチパートのfileフィールドの画像を保存する。
// POST /api/properties/{id}/photos
func (h *PropertyHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoSize+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError(model.ErrCodeInvalidImage, "画像サイズが上限を超えています。", "file"))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError([]string{"file"}))
		return
	}
	defer file.Close()

	photo, err := h.service.UploadPhoto(r.Context(), userID, chi.URLParam(r, "id"), file)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPhotoResponse(photo))
}

// ImportPhoto は指定URLの画像を取得して保存する。
// POST /api/properties/{id}/photos/import
func (h *PropertyHandler) ImportPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req importPhotoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	photo, err := h.service.ImportPhoto(r.Context(), userID, chi.URLParam(r, "id"), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPhotoResponse(photo))
}

// Search は物件をタイトル・市区町村・住所で検索する。
// GET /api/properties/search?q=
func (h *PropertyHandler) Search(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	results, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertySummaryResponses(results))
}
