package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	keyPrefix  = "evidence"
	urlScheme  = "s3://"
	maxNameLen = 80
)

// s3API is the minimal S3 interface required by Client.
// *s3.Client satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presignAPI is satisfied by *s3.PresignClient.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client stores evidence files in a single bucket. Every call is a single
// attempt; retry policy belongs to the caller. Safe for concurrent use.
type Client struct {
	api     s3API
	presign presignAPI
	bucket  string
	now     func() time.Time
}

// New creates a blob store Client for bucket.
func New(api s3API, presign presignAPI, bucket string) (*Client, error) {
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	if presign == nil {
		return nil, errors.New("blobstore: presign client must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("blobstore: bucket must not be empty")
	}
	return &Client{api: api, presign: presign, bucket: bucket, now: time.Now}, nil
}

// Upload writes data under a fresh key and returns its s3:// URL.
func (c *Client) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("blobstore: Upload: data must not be empty")
	}
	key := objectKey(c.now(), uuid.NewString(), name)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("blobstore: Upload %q: %w", key, err)
	}
	return urlScheme + c.bucket + "/" + key, nil
}

// Delete removes the object behind url.
func (c *Client) Delete(ctx context.Context, url string) error {
	bucket, key, err := parseURL(url)
	if err != nil {
		return err
	}
	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: Delete %q: %w", key, err)
	}
	return nil
}

// ReadURL returns a presigned GET URL for url valid for ttl.
func (c *Client) ReadURL(ctx context.Context, url string, ttl time.Duration) (string, error) {
	bucket, key, err := parseURL(url)
	if err != nil {
		return "", err
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("blobstore: ReadURL %q: %w", key, err)
	}
	return req.URL, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey builds evidence/YYYY/MM/DD/<id>-<name>.
func objectKey(ts time.Time, id, name string) string {
	safe := unsafeChars.ReplaceAllString(path.Base(strings.TrimSpace(name)), "_")
	safe = strings.Trim(safe, "._")
	if len(safe) > maxNameLen {
		safe = safe[len(safe)-maxNameLen:]
	}
	if safe == "" {
		safe = "evidence"
	}
	return fmt.Sprintf("%s/%s/%s-%s", keyPrefix, ts.UTC().Format("2006/01/02"), id, safe)
}

func parseURL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, urlScheme)
	if !ok {
		return "", "", fmt.Errorf("blobstore: unsupported url %q", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blobstore: malformed url %q", url)
	}
	return bucket, key, nil
}
