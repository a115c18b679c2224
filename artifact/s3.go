package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/segmesh/core"
)

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Store keeps artifacts in an S3 compatible bucket under
// <prefix><runID>/<name>.
type S3Store struct {
	api    *minio.Client
	bucket string
	prefix string
}

var (
	_ core.ArtifactStore = (*S3Store)(nil)
	_ core.ImageLoader   = (*S3Store)(nil)
)

// NewS3Store creates a store backed by a MinIO client.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return NewS3StoreFromClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *minio.Client, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{api: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) object(runID, name string) (string, error) {
	if err := checkSegment(runID); err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", err
	}
	return s.prefix + Key(runID, name), nil
}

// Save uploads the bytes and returns the artifact key.
func (s *S3Store) Save(ctx context.Context, runID, name string, data []byte) (string, error) {
	obj, err := s.object(runID, name)
	if err != nil {
		return "", err
	}
	_, err = s.api.PutObject(ctx, s.bucket, obj, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(name, data),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", obj, err)
	}
	return Key(runID, name), nil
}

// Get downloads an artifact or returns ErrNotFound.
func (s *S3Store) Get(ctx context.Context, runID, name string) ([]byte, error) {
	obj, err := s.object(runID, name)
	if err != nil {
		return nil, err
	}
	return s.download(ctx, obj)
}

func (s *S3Store) download(ctx context.Context, obj string) ([]byte, error) {
	o, err := s.api.GetObject(ctx, s.bucket, obj, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapS3Error(err)
	}
	defer o.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, o); err != nil {
		return nil, mapS3Error(err)
	}
	return buf.Bytes(), nil
}

// List returns the sorted artifact names of a run.
func (s *S3Store) List(ctx context.Context, runID string) ([]string, error) {
	if err := checkSegment(runID); err != nil {
		return nil, err
	}
	prefix := s.prefix + runID + "/"

	var names []string
	for obj := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(obj.Key, prefix); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Delete removes an artifact or returns ErrNotFound.
func (s *S3Store) Delete(ctx context.Context, runID, name string) error {
	obj, err := s.object(runID, name)
	if err != nil {
		return err
	}
	if _, err := s.api.StatObject(ctx, s.bucket, obj, minio.StatObjectOptions{}); err != nil {
		return mapS3Error(err)
	}
	return s.api.RemoveObject(ctx, s.bucket, obj, minio.RemoveObjectOptions{})
}

// LoadImage resolves an artifact key, or a raw object key below the prefix.
func (s *S3Store) LoadImage(ctx context.Context, ref core.ImageRef) ([]byte, error) {
	if runID, name, err := SplitKey(ref.Key); err == nil {
		return s.Get(ctx, runID, name)
	}
	return s.download(ctx, s.prefix+path.Clean(strings.TrimPrefix(ref.Key, "/")))
}

func mapS3Error(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func contentType(name string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return http.DetectContentType(data)
}
