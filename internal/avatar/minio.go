package avatar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxAvatarBytes = 1 << 20

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioMirror copies remote avatar images into an object bucket.
type MinioMirror struct {
	objects objectPutter
	bucket  string
	baseURL string
	http    *http.Client
}

func NewMinioMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioMirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return newMirror(client, bucket, scheme+"://"+endpoint), nil
}

func newMirror(objects objectPutter, bucket, baseURL string) *MinioMirror {
	return &MinioMirror{
		objects: objects,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Mirror fetches sourceURL and stores it as <key>.jpg, returning the object URL.
func (m *MinioMirror) Mirror(ctx context.Context, key, sourceURL string) (string, error) {
	if strings.HasPrefix(sourceURL, "//") {
		sourceURL = "https:" + sourceURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build avatar request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch avatar: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	object := key + ".jpg"
	if _, err := m.objects.PutObject(ctx, m.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("store avatar %s: %w", object, err)
	}
	return m.baseURL + "/" + m.bucket + "/" + object, nil
}
