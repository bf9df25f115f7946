package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/bobarin/stockreel/internal/config"
)

// ObjectStore is where runs read narration from and publish prepared
// clips, mixed audio and manifests to.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	GetPublicURL(path string) string
}

// Open returns the store selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return NewS3(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
	case "supabase", "":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// RunPath creates the storage path for a run artifact.
func RunPath(runID uuid.UUID, filename string) string {
	return path.Join("runs", runID.String(), filename)
}

// ContentType guesses the MIME type of a run artifact from its extension.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".json":
		return "application/json"
	case ".vtt":
		return "text/vtt"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
