// Package media turns attachment references on reminder jobs into URLs the
// WhatsApp gateway can fetch.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

var ErrInvalidRef = errors.New("media: invalid reference")

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Uploader is the subset of *s3.Client used here.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Resolver presigns s3:// references and passes http(s) URLs through.
// Presigned URLs are cached for half their lifetime.
type Resolver struct {
	presigner Presigner
	uploader  Uploader
	bucket    string
	ttl       time.Duration
	cache     *cache.Cache
	logger    *logging.Logger
}

// NewResolver builds a resolver. bucket is used for bare keys and uploads.
func NewResolver(presigner Presigner, uploader Uploader, bucket string, ttl time.Duration, logger *logging.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		presigner: presigner,
		uploader:  uploader,
		bucket:    bucket,
		ttl:       ttl,
		cache:     cache.New(ttl/2, ttl),
		logger:    logger.Component("media"),
	}
}

// Resolve returns a fetchable URL for ref. An empty ref resolves to "".
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return ref, nil
	}
	bucket, key, err := r.parse(ref)
	if err != nil {
		return "", err
	}
	if r.presigner == nil {
		return "", fmt.Errorf("media: s3 not configured for %s", ref)
	}

	cacheKey := bucket + "/" + key
	if u, ok := r.cache.Get(cacheKey); ok {
		return u.(string), nil
	}
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", ref, err)
	}
	r.cache.Set(cacheKey, req.URL, r.ttl/2)
	return req.URL, nil
}

func (r *Resolver) parse(ref string) (bucket, key string, err error) {
	if strings.HasPrefix(ref, "s3://") {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
		}
		return u.Host, strings.TrimPrefix(u.Path, "/"), nil
	}
	if strings.Contains(ref, "://") || r.bucket == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return r.bucket, strings.TrimPrefix(ref, "/"), nil
}

// Upload stores an attachment under templates/ and returns its s3:// reference.
func (r *Resolver) Upload(ctx context.Context, filename, contentType string, body []byte) (string, error) {
	if r.uploader == nil || r.bucket == "" {
		return "", fmt.Errorf("media: uploads not configured")
	}
	ext := path.Ext(filename)
	key := fmt.Sprintf("templates/%s%s", uuid.NewString(), strings.ToLower(ext))
	_, err := r.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}
	ref := fmt.Sprintf("s3://%s/%s", r.bucket, key)
	r.logger.Info("media uploaded", "ref", ref, "content_type", contentType, "size", len(body))
	return ref, nil
}
