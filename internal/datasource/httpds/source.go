package httpds

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
)

// Source is a remote file reachable by GET.
type Source struct {
	client *Client
	url    string
}

// NewSource binds url to client.
func NewSource(c *Client, url string) *Source { return &Source{client: c, url: url} }

// Stat probes the URL with HEAD. Servers that reject HEAD are probed with a
// one-byte ranged GET instead. 404 and 410 match fs.ErrNotExist.
func (s *Source) Stat(ctx context.Context) error {
	resp, err := s.client.Head(ctx, s.url)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		h := http.Header{}
		h.Set("Range", "bytes=0-0")
		if resp, err = s.client.Get(ctx, s.url, h); err != nil {
			return err
		}
		_ = resp.Body.Close()
	}
	return statusError(s.url, resp.StatusCode)
}

// Open issues a GET and returns the body on 2xx.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if err := statusError(s.url, resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func statusError(url string, code int) error {
	switch {
	case code >= 200 && code <= 299:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("httpds: %s: %w (status %d)", url, fs.ErrNotExist, code)
	default:
		return fmt.Errorf("httpds: %s: unexpected status %d", url, code)
	}
}
