// Object storage over the backend's /storage/v1 endpoints.

package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/rehearse/internal/shared"
)

const storagePath = "/storage/v1/object"

// BucketStore implements [ObjectStore] against the backend's storage API.
type BucketStore struct {
	api *APIService
}

// NewBucketStore creates a storage client that issues requests through api.
func NewBucketStore(api *APIService) *BucketStore {
	return &BucketStore{api: api}
}

// escapePath escapes each segment of an object path, keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Upload stores body at bucket/path. Without opts.Upsert an existing object is a [shared.ErrConflict].
func (s *BucketStore) Upload(ctx context.Context, bucket, path string, body io.Reader, opts UploadOptions) error {
	if bucket == "" || strings.Trim(path, "/") == "" {
		return fmt.Errorf("%w: bucket and path are required", shared.ErrInvalidArgument)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := s.api.Do(ctx, APIRequest{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/%s/%s", storagePath, url.PathEscape(bucket), escapePath(path)),
		Header: http.Header{
			"Content-Type":  {contentType},
			"X-Upsert":      {strconv.FormatBool(opts.Upsert)},
			"Cache-Control": {"max-age=3600"},
		},
		Body: body,
	})
	if err != nil {
		return err
	}

	// the storage API reports duplicates as 400 with a 409 status code in the body
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(resp.Body), "Duplicate") {
		return fmt.Errorf("%w: %s/%s", shared.ErrConflict, bucket, path)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Remove deletes objects from bucket. Missing objects are not an error.
func (s *BucketStore) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	err := s.api.doJSON(ctx, APIRequest{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%s", storagePath, url.PathEscape(bucket)),
	}, map[string][]string{"prefixes": paths}, nil)
	if err != nil {
		return fmt.Errorf("remove from %s: %w", bucket, err)
	}
	return nil
}

// PublicURL returns the unauthenticated download URL for bucket/path.
func (s *BucketStore) PublicURL(bucket, path string) (string, error) {
	if s.api.BaseURL() == "" {
		return "", fmt.Errorf("%w: backend url is not configured", shared.ErrInvalidConfig)
	}
	if bucket == "" || strings.Trim(path, "/") == "" {
		return "", fmt.Errorf("%w: bucket and path are required", shared.ErrInvalidArgument)
	}
	return fmt.Sprintf("%s%s/public/%s/%s", s.api.BaseURL(), storagePath, url.PathEscape(bucket), escapePath(path)), nil
}
