package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// S3Options configures an S3FS.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // for S3-compatible stores; enables path-style addressing
	AccessKeyID     string
	SecretAccessKey string
	// Password seals every object with SealFormat when non-empty.
	Password string
}

// ObjectAPI is the subset of the S3 client S3FS calls directly.
type ObjectAPI interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Uploader is the subset of manager.Uploader used for writes.
type Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3FS stores artifacts as objects under Prefix. Directories do not exist in
// S3, so MkdirAll is a no-op.
type S3FS struct {
	api      ObjectAPI
	uploader Uploader
	bucket   string
	prefix   string
	password string
}

// NewS3FS loads AWS configuration and builds an S3-backed filesystem. Static
// credentials are used when both key fields are set; otherwise the default
// credential chain applies.
func NewS3FS(ctx context.Context, opts S3Options) (*S3FS, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 filesystem: bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3FS(cli, manager.NewUploader(cli), opts), nil
}

func newS3FS(api ObjectAPI, up Uploader, opts S3Options) *S3FS {
	return &S3FS{
		api:      api,
		uploader: up,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		password: opts.Password,
	}
}

// Key maps a relative artifact path to its object key.
func (s *S3FS) Key(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func (s *S3FS) MkdirAll(_ context.Context, dir string) error {
	log.Debug().Str("bucket", s.bucket).Str("prefix", s.Key(dir)).Msg("s3 has no directories; skipping mkdir")
	return nil
}

func (s *S3FS) WriteFile(ctx context.Context, p string, data []byte) error {
	key := s.Key(p)
	meta := map[string]string{
		"name":      path.Base(key),
		"encrypted": "false",
	}
	body := data
	ctype := contentType(p, data)
	if s.password != "" {
		sealed, err := Seal(data, s.password)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		body = sealed
		meta["encrypted"] = "true"
		meta["encryption-format"] = SealFormat
		meta["plain-content-type"] = ctype
		ctype = sealedContentType
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ctype),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("key", key).Str("location", out.Location).Int("size", len(data)).Msg("uploaded artifact to S3")
	return nil
}

func (s *S3FS) WriteText(ctx context.Context, p, text string) error {
	return s.WriteFile(ctx, p, []byte(text))
}

func (s *S3FS) Remove(ctx context.Context, p string) error {
	key := s.Key(p)
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket exists and is reachable with the configured
// credentials.
func (s *S3FS) Ping(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// contentType prefers the artifact extension for text outputs and sniffs
// magic bytes for everything else.
func contentType(p string, data []byte) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	}
	return mimetype.Detect(data).String()
}
