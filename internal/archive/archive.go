// Package archive stores raw provider pages verbatim so any normalization bug
// can be replayed against the original payloads. Archival is best-effort: the
// pipeline never fails because the archive is unavailable.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
)

// Archiver writes one raw page to durable storage.
type Archiver interface {
	StorePage(ctx context.Context, connectorID string, page int, records []map[string]any) error
}

// New picks S3 when a bucket is configured, a local directory otherwise.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	if cfg.ArchiveS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &s3Archiver{client: client, bucket: cfg.ArchiveS3Bucket}, nil
	}
	return &localArchiver{baseDir: cfg.ArchiveLocalDir}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchivePathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchivePathStyle
	}), nil
}

func pageKey(connectorID string, page int) string {
	return fmt.Sprintf("raw-pages/%s/%s/page-%04d.json",
		connectorID, time.Now().UTC().Format("2006-01-02"), page)
}

type s3Archiver struct {
	client *s3.Client
	bucket string
}

func (a *s3Archiver) StorePage(ctx context.Context, connectorID string, page int, records []map[string]any) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal raw page: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(pageKey(connectorID, page)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put raw page: %w", err)
	}
	return nil
}

type localArchiver struct {
	baseDir string
}

func (a *localArchiver) StorePage(_ context.Context, connectorID string, page int, records []map[string]any) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal raw page: %w", err)
	}
	path := filepath.Join(a.baseDir, pageKey(connectorID, page))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write raw page: %w", err)
	}
	return nil
}
