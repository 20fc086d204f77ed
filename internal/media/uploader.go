// Package media implements the attachment-upload collaborator. A
// message only ever carries a hosted URL once it reaches the
// reconciler; this package is the step that turns a local file into
// that URL.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/tradewire/chatkit/internal/config"
)

// Uploader stores a local payload and returns its hosted URL.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
}

// S3Uploader uploads attachments to S3 or MinIO.
type S3Uploader struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

// NewS3Uploader creates an uploader from the media configuration.
func NewS3Uploader(ctx context.Context, cfg config.MediaConfig) (*S3Uploader, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		// MinIO needs path-style addressing.
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Uploader{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// Upload stores the payload under a fresh key and returns the URL the
// message will carry. With a public URL prefix configured the URL is
// stable; otherwise a presigned GET URL is returned.
func (u *S3Uploader) Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	key := attachmentKey(contentType)

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}

	if u.publicURL != "" {
		return u.publicURL + "/" + key, nil
	}

	presigned, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to presign attachment URL: %w", err)
	}
	return presigned.URL, nil
}

func attachmentKey(contentType string) string {
	ext := ""
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return path.Join("chat-attachments", uuid.New().String()+ext)
}
