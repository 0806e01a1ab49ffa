package archive

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/likelottery/pkg/config"
)

// Open builds the archive backend named by cfg.Archive.Type.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Archive.Type {
	case "", "fs":
		return NewFileStore(cfg.ArchivePath())
	case "s3":
		region := cfg.Archive.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.Archive.Bucket,
			Region:   region,
			Endpoint: cfg.Archive.Endpoint,
			Prefix:   cfg.Archive.Prefix,
		})
	case "gcs":
		return openGCS(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix)
	default:
		return nil, fmt.Errorf("unsupported archive type %q", cfg.Archive.Type)
	}
}
