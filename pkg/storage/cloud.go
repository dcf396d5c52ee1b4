// Package storage resolves an interchange destination string to an
// ObjectStorage. Supports local directories and S3.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/parcelfind/parcelfind/pkg/interfaces"
	"github.com/parcelfind/parcelfind/pkg/storage/object"
	"github.com/parcelfind/parcelfind/pkg/storage/s3"
)

// S3Options carries the client settings for s3:// destinations.
type S3Options struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Open returns the storage for a destination. s3://bucket/prefix selects S3;
// file:///dir or a plain path selects a local directory.
func Open(ctx context.Context, dest string, opts S3Options) (interfaces.ObjectStorage, error) {
	if dest == "" {
		return nil, fmt.Errorf("empty storage destination")
	}

	scheme, bucket, key := ParsePath(dest)
	switch scheme {
	case "file":
		return object.NewLocalStorage(key)
	case "s3":
		if bucket == "" {
			return nil, fmt.Errorf("s3 destination %q has no bucket", dest)
		}
		cfg := s3.DefaultConfig(bucket, opts.Region)
		cfg.Prefix = key
		cfg.Endpoint = opts.Endpoint
		cfg.UsePathStyle = opts.UsePathStyle
		return s3.NewClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}

// ParsePath splits a destination into scheme, bucket and key. Plain paths
// and Windows drive letters are "file" with the path as key.
func ParsePath(dest string) (scheme, bucket, key string) {
	u, err := url.Parse(dest)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return "file", "", dest
	}
	if u.Scheme == "file" {
		return "file", "", u.Path
	}
	return u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/")
}
