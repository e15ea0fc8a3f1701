// Package datasource resolves an input location (local path, http(s) URL or
// s3:// URI) to a Source that can be probed and opened.
//
// Every backend reports a missing input with an error that matches
// fs.ErrNotExist, so callers can run a pre-flight check without knowing
// where the bytes live.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"phenoload/internal/datasource/file"
	"phenoload/internal/datasource/httpds"
	"phenoload/internal/datasource/s3source"
)

// Source is a readable input.
type Source interface {
	// Stat checks that the input exists and is readable without
	// consuming it.
	Stat(ctx context.Context) error
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Options carries backend settings for Resolve.
type Options struct {
	HTTP httpds.Config
	S3   s3source.Config
}

// Resolve picks the backend for location by its scheme. Anything without a
// recognised scheme is treated as a local path.
func Resolve(ctx context.Context, location string, opt Options) (Source, error) {
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("datasource: empty location")
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // "C:\..." parses with scheme "c"
		return file.NewLocal(location), nil
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return file.NewLocal(u.Path), nil
	case "http", "https":
		return httpds.NewSource(httpds.NewClient(opt.HTTP), location), nil
	case "s3":
		return s3source.New(ctx, opt.S3, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("datasource: unsupported scheme %q in %s", u.Scheme, location)
	}
}
