package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/storage"
)

// BucketInitializer はバケットの初期化を行う。
type BucketInitializer interface {
	EnsureBuckets(ctx context.Context) []storage.BucketResult
}

// StorageHandler はオブジェクトストレージ管理のHTTPハンドラー。
type StorageHandler struct {
	buckets BucketInitializer
}

// NewStorageHandler はStorageHandlerを生成する。bucketsがnilの場合はstorage_unavailableを返す。
func NewStorageHandler(buckets BucketInitializer) *StorageHandler {
	return &StorageHandler{buckets: buckets}
}

type bucketResultResponse struct {
	Bucket string `json:"bucket"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Init はアプリケーションが使うバケットを冪等に作成する。
// POST /api/storage/init
func (h *StorageHandler) Init(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	if h.buckets == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Kind:     model.KindUnavailable,
			Code:     model.ErrCodeStorageUnavailable,
			Message:  "オブジェクトストレージが設定されていません。",
			Category: "system",
			Action:   "管理者に連絡してください。",
		})
		return
	}

	results := h.buckets.EnsureBuckets(r.Context())
	out := make([]bucketResultResponse, len(results))
	for i, res := range results {
		out[i] = bucketResultResponse{Bucket: res.Bucket, Status: res.Status, Error: res.Error}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}
