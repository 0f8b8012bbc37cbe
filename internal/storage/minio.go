// Package storage はオブジェクトストレージ（MinIO / S3互換）へのアクセスを提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// バケット初期化の結果
const (
	BucketCreated = "created"
	BucketExists  = "exists"
	BucketError   = "error"
)

// Config はオブジェクトストレージの接続設定。
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// BucketResult はバケット1つ分の初期化結果。
type BucketResult struct {
	Bucket string
	Status string
	Error  string
}

// bucketAPI はminio.Clientのうち利用する操作。
type bucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ bucketAPI = (*minio.Client)(nil)

// Client はアプリケーションが使うバケットを管理するストレージクライアント。
type Client struct {
	api     bucketAPI
	buckets []string
}

// New はMinIOクライアントを生成する。bucketsはEnsureBucketsで作成するバケット。
// 接続はリクエスト時に行うため、ここではサーバーに接続しない。
func New(cfg Config, buckets ...string) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is not configured")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{api: mc, buckets: buckets}, nil
}

// EnsureBuckets は全てのバケットを冪等に作成し、バケットごとの結果を返す。
// 1つのバケットの失敗で他のバケットの処理は止めない。
func (c *Client) EnsureBuckets(ctx context.Context) []BucketResult {
	results := make([]BucketResult, 0, len(c.buckets))
	for _, bucket := range c.buckets {
		results = append(results, c.ensureBucket(ctx, bucket))
	}
	return results
}

func (c *Client) ensureBucket(ctx context.Context, bucket string) BucketResult {
	exists, err := c.api.BucketExists(ctx, bucket)
	if err == nil && exists {
		return BucketResult{Bucket: bucket, Status: BucketExists}
	}

	if err := c.api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// 同時に作成された場合
		if exists, xerr := c.api.BucketExists(ctx, bucket); xerr == nil && exists {
			return BucketResult{Bucket: bucket, Status: BucketExists}
		}
		slog.Error("bucket creation failed",
			slog.String("bucket", bucket),
			slog.String("error", err.Error()),
		)
		return BucketResult{Bucket: bucket, Status: BucketError, Error: err.Error()}
	}

	slog.Info("bucket created", slog.String("bucket", bucket))
	return BucketResult{Bucket: bucket, Status: BucketCreated}
}

// PutObject はreaderの内容をbucket/keyに保存する。
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if _, err := c.api.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}
