package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fragility/internal/artifact"
	"fragility/internal/config"
	"fragility/internal/fileutil"
	"fragility/internal/logging"
)

// ObjectStore is the subset of *minio.Client used for publishing.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Result describes a completed upload.
type Result struct {
	Bucket     string
	BundleKey  string
	SidecarKey string
	Bytes      int64
}

// Publisher uploads artifact bundles and sidecars under
// <prefix>/<recording id>/<params hash>/.
type Publisher struct {
	client ObjectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds a Publisher from the [publish] section.
func New(cfg config.Publish, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, errors.New("publishing is disabled in config")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient returns a Publisher using an existing client.
func NewWithClient(client ObjectStore, bucket, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.NewComponentLogger(logger, "publish"),
	}
}

// ObjectKey returns the key an artifact file is stored under.
func (p *Publisher) ObjectKey(meta artifact.Metadata, file string) string {
	return path.Join(p.prefix, meta.RecordingID, meta.ParamsHash, filepath.Base(file))
}

// CheckBucket reports an error unless the configured bucket exists.
func (p *Publisher) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", p.bucket)
	}
	return nil
}

// Publish uploads the bundle and then the sidecar, so a visible sidecar
// implies a complete bundle on the remote side too.
func (p *Publisher) Publish(ctx context.Context, paths artifact.Paths, meta artifact.Metadata) (Result, error) {
	if meta.RecordingID == "" || meta.ParamsHash == "" {
		return Result{}, errors.New("artifact metadata lacks recording id or params hash")
	}
	if err := p.CheckBucket(ctx); err != nil {
		return Result{}, err
	}

	res := Result{
		Bucket:     p.bucket,
		BundleKey:  p.ObjectKey(meta, paths.Bundle),
		SidecarKey: p.ObjectKey(meta, paths.Sidecar),
	}
	uploads := []struct {
		file, key, contentType string
	}{
		{paths.Bundle, res.BundleKey, "application/zip"},
		{paths.Sidecar, res.SidecarKey, "application/json"},
	}
	for _, up := range uploads {
		sum, err := fileutil.SHA256File(up.file)
		if err != nil {
			return Result{}, fmt.Errorf("checksum %s: %w", filepath.Base(up.file), err)
		}
		info, err := p.client.FPutObject(ctx, p.bucket, up.key, up.file, minio.PutObjectOptions{
			ContentType: up.contentType,
			UserMetadata: map[string]string{
				"sha256":       sum,
				"recording-id": meta.RecordingID,
				"params-hash":  meta.ParamsHash,
			},
		})
		if err != nil {
			return Result{}, fmt.Errorf("upload %s: %w", up.key, err)
		}
		res.Bytes += info.Size
		p.logger.DebugContext(ctx, "object uploaded",
			logging.String("bucket", p.bucket),
			logging.String("object_key", up.key),
			logging.Int64("total_bytes", info.Size),
		)
	}
	p.logger.InfoContext(ctx, "artifact published",
		logging.String(logging.FieldEventType, "artifact_published"),
		logging.String("bucket", p.bucket),
		logging.String("object_key", res.SidecarKey),
		logging.Int64("total_bytes", res.Bytes),
	)
	return res, nil
}
