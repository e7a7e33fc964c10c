package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"opsboard/internal/config"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store writes work item attachments to local disk or S3 and generates
// thumbnails for image uploads.
type Store struct {
	backend    uploader
	thumbWidth int
	maxBytes   int64
}

// NewStore picks the S3 backend when a bucket is configured, local disk
// otherwise.
func NewStore(ctx context.Context, cfg config.Config) (*Store, error) {
	thumbWidth := cfg.ThumbWidth
	if thumbWidth == 0 {
		thumbWidth = 320
	}

	var backend uploader
	if cfg.AttachmentS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = &s3Uploader{client: client, bucket: cfg.AttachmentS3Bucket}
	} else {
		baseDir := cfg.AttachmentDir
		if baseDir == "" {
			baseDir = "./attachments"
		}
		backend = &localUploader{baseDir: baseDir}
	}

	return &Store{
		backend:    backend,
		thumbWidth: thumbWidth,
		maxBytes:   cfg.AttachmentMaxBytes,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AttachmentS3Region),
	}
	if cfg.AttachmentS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AttachmentS3Endpoint,
					HostnameImmutable: cfg.AttachmentS3PathStyle,
					SigningRegion:     cfg.AttachmentS3Region,
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
		o.UsePathStyle = cfg.AttachmentS3PathStyle
	}), nil
}

// SaveResult reports where an attachment (and its optional thumbnail)
// landed.
type SaveResult struct {
	StorageKey string
	ThumbKey   *string
	SizeBytes  int64
}

// Save stores one attachment under the work item's key prefix. Decodable
// images additionally get a thumbnail next to the original.
func (s *Store) Save(ctx context.Context, workItemID, fileName, contentType string, data []byte) (SaveResult, error) {
	if len(data) == 0 {
		return SaveResult{}, errors.New("empty attachment body")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return SaveResult{}, fmt.Errorf("attachment too large (>%d bytes)", s.maxBytes)
	}

	key := attachmentKey(workItemID, fileName)
	if _, err := s.backend.Upload(ctx, key, data, contentType); err != nil {
		return SaveResult{}, fmt.Errorf("upload attachment: %w", err)
	}

	res := SaveResult{StorageKey: key, SizeBytes: int64(len(data))}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		thumb := imaging.Resize(img, s.thumbWidth, 0, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return SaveResult{}, fmt.Errorf("encode thumbnail: %w", err)
		}
		thumbKey := thumbKeyFor(key)
		if _, err := s.backend.Upload(ctx, thumbKey, buf.Bytes(), "image/jpeg"); err != nil {
			return SaveResult{}, fmt.Errorf("upload thumbnail: %w", err)
		}
		res.ThumbKey = &thumbKey
	}

	return res, nil
}

// attachmentKey builds a storage key scoped to the work item, with the
// file name stripped of any path components.
func attachmentKey(workItemID, fileName string) string {
	name := sanitizeName(fileName)
	return workItemID + "/" + name
}

func thumbKeyFor(key string) string {
	dir, file := filepath.Split(key)
	return dir + "thumb_" + strings.TrimSuffix(file, filepath.Ext(file)) + ".jpg"
}

func sanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "attachment"
	}
	return strings.ReplaceAll(name, " ", "_")
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
