// Package storage wraps the S3 presign client used to hand clients
// direct upload/download URLs for message attachments, keeping large
// binary payloads off the API server entirely.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	uploadURLTTL   = 15 * time.Minute
	downloadURLTTL = 1 * time.Hour
)

// Presigner issues time-limited upload and download URLs for one
// bucket.
type Presigner struct {
	client *s3.PresignClient
	bucket string
}

// New builds a Presigner from the ambient AWS config (env vars,
// shared credentials file, or instance profile), pointed at a
// non-default endpoint when endpoint is set (for S3-compatible stores).
func New(ctx context.Context, endpoint, bucket string) (*Presigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, opts...)
	return &Presigner{client: s3.NewPresignClient(client), bucket: bucket}, nil
}

// PresignUpload returns a PUT URL the client can upload directly to.
func (p *Presigner) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadURLTTL))
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return req.URL, nil
}

// PresignDownload returns a GET URL valid for downloadURLTTL.
func (p *Presigner) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(downloadURLTTL))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return req.URL, nil
}
