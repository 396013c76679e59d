package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"offer-pipeline/internal/config"
	"offer-pipeline/internal/models"
)

type documentUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Exporter serializes audit trails into portable documents and stores them
// in a local directory or an S3 bucket.
type Exporter struct {
	local documentUploader
	s3    documentUploader
}

// NewExporter chooses uploaders from config. S3 is used when a bucket is
// configured, the local directory otherwise.
func NewExporter(ctx context.Context, cfg config.Config) (*Exporter, error) {
	baseDir := cfg.AuditExportDir
	if baseDir == "" {
		baseDir = "./exports"
	}

	var s3Upload documentUploader
	if cfg.AuditExportS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.AuditExportS3Bucket}
	}

	return &Exporter{
		local: &localUploader{baseDir: baseDir},
		s3:    s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AuditExportS3Region),
	}
	if cfg.AuditExportS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AuditExportS3Endpoint,
					HostnameImmutable: cfg.AuditExportPathStyle,
					SigningRegion:     cfg.AuditExportS3Region,
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
		o.UsePathStyle = cfg.AuditExportPathStyle
	}), nil
}

// ExportDocument is the portable serialization of one application's trail.
type ExportDocument struct {
	ApplicationID string              `json:"application_id"`
	ExportedAt    time.Time           `json:"exported_at"`
	Entries       []models.AuditEntry `json:"entries"`
	Summary       Summary             `json:"summary"`
	Metadata      map[string]any      `json:"metadata"`
}

// ExportResult points at the stored document.
type ExportResult struct {
	Location string         `json:"location"`
	Document ExportDocument `json:"document"`
}

// ExportAuditTrail builds the portable document for one application and
// stores it through the configured uploader.
func (s *Service) ExportAuditTrail(ctx context.Context, appID string) (ExportResult, error) {
	if s.exporter == nil {
		return ExportResult{}, fmt.Errorf("audit exporter is not configured")
	}
	entries, err := s.entries.ListByApplication(ctx, appID)
	if err != nil {
		return ExportResult{}, err
	}
	summary, err := s.GetAuditSummary(ctx, appID)
	if err != nil {
		return ExportResult{}, err
	}

	doc := ExportDocument{
		ApplicationID: appID,
		ExportedAt:    time.Now().UTC(),
		Entries:       entries,
		Summary:       summary,
		Metadata: map[string]any{
			"entry_count": len(entries),
			"format":      "audit-trail/v1",
		},
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("marshal export document: %w", err)
	}

	key := fmt.Sprintf("audit/%s/%s.json", appID, doc.ExportedAt.Format("20060102T150405Z"))
	location, err := s.exporter.upload(ctx, key, body)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Location: location, Document: doc}, nil
}

func (e *Exporter) upload(ctx context.Context, key string, body []byte) (string, error) {
	uploader := e.s3
	if uploader == nil {
		uploader = e.local
	}
	location, err := uploader.Upload(ctx, sanitizeKey(key), body, "application/json")
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return location, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
