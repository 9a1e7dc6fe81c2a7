// Package blob stores uploaded media bytes behind a small provider interface
// with local filesystem, MinIO and S3 implementations. Keys are opaque,
// generated server side and never derived from client input.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Gopher0727/Warden/config"
)

var (
	ErrNotFound   = errors.New("blob: object not found")
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Object is an open stored object. It supports seeking so HTTP range
// requests can be served from it.
type Object interface {
	io.ReadSeekCloser
	Size() int64
	ModTime() time.Time
}

type Provider interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (Object, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New picks the provider named by cfg.Provider.
func New(ctx context.Context, cfg *config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocal(cfg.LocalRoot)
	case "minio":
		return NewMinio(cfg)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("blob: unknown provider %q", cfg.Provider)
	}
}

// NewKey builds "<prefix>/<yyyy>/<mm>/<ulid><ext>".
func NewKey(prefix string, now time.Time, ext string) string {
	id := strings.ToLower(ulid.Make().String())
	return path.Join(prefix, now.UTC().Format("2006"), now.UTC().Format("01"), id+ext)
}

// validKey rejects absolute keys and any traversal component.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func withBase(base, key string) string {
	if base == "" {
		return key
	}
	return path.Join(base, key)
}

// bytesObject adapts an in-memory body to Object.
type bytesObject struct {
	*strings.Reader
	size    int64
	modTime time.Time
}

func (o *bytesObject) Close() error       { return nil }
func (o *bytesObject) Size() int64        { return o.size }
func (o *bytesObject) ModTime() time.Time { return o.modTime }
