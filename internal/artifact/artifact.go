// Package artifact stores rendered job artifacts (PDF reports) and hands out
// locations for downloading them.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/kiranshivaraju/beyanname/internal/config"
)

var ErrNotFound = errors.New("artifact not found")

const ContentType = "application/pdf"

// Store persists artifacts under an opaque key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// PresignURL returns a time-limited direct download URL, or "" when the
	// backend cannot serve downloads itself and the caller must stream Open.
	PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Key returns the storage key for a job's rendered report.
func Key(ownerID, jobID string) string {
	return fmt.Sprintf("artifacts/%s/%s.pdf", url.PathEscape(ownerID), url.PathEscape(jobID))
}

// New builds the configured artifact store. It returns (nil, nil) when
// rendering is disabled.
func New(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case config.ArtifactsNone:
		return nil, nil
	case config.ArtifactsFile:
		return NewFileStore(cfg.Dir)
	case config.ArtifactsS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}
