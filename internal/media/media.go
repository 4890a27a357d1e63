// Package media turns stored photo and attachment keys into URLs clients can
// fetch.
package media

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Resolver maps a media key to a URL. An empty key yields an empty URL.
type Resolver interface {
	URL(ctx context.Context, key string) string
}

// SiteResolver serves media from the web server's own media root, e.g.
// "https://example.com" + "/media/" + "files/users_photo/a.jpg".
type SiteResolver struct {
	SiteURL  string
	MediaURL string
}

func (r SiteResolver) URL(_ context.Context, key string) string {
	if key == "" {
		return ""
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	prefix := r.MediaURL
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return r.SiteURL + prefix + strings.TrimPrefix(key, "/")
}

// presigner is the subset of *s3.PresignClient used here.
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Resolver issues short-lived presigned GET URLs for keys in a bucket.
// When presigning fails it falls back to the site resolver so a profile
// photo never breaks a history payload.
type S3Resolver struct {
	bucket   string
	ttl      time.Duration
	presign  presigner
	fallback Resolver
	logger   *zap.Logger
}

// NewS3Resolver loads the default AWS configuration for region and returns
// a resolver for bucket.
func NewS3Resolver(ctx context.Context, region, bucket string, ttl time.Duration, fallback Resolver, logger *zap.Logger) (*S3Resolver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return newS3Resolver(bucket, ttl, s3.NewPresignClient(client), fallback, logger), nil
}

func newS3Resolver(bucket string, ttl time.Duration, p presigner, fallback Resolver, logger *zap.Logger) *S3Resolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Resolver{bucket: bucket, ttl: ttl, presign: p, fallback: fallback, logger: logger}
}

func (r *S3Resolver) URL(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		r.logger.Warn("presign media key failed", zap.String("key", key), zap.Error(err))
		return r.fallback.URL(ctx, key)
	}
	return req.URL
}
