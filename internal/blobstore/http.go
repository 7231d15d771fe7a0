package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxRemoteClip bounds the size of a clip fetched over HTTP.
const maxRemoteClip = 64 << 20

// HTTPFetcher retrieves clips referenced by http(s) URL.
type HTTPFetcher struct {
	http *http.Client
}

// NewHTTPFetcher creates a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{http: &http.Client{Timeout: timeout}}
}

// Fetch downloads url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get clip: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteClip+1))
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	if len(data) > maxRemoteClip {
		return nil, fmt.Errorf("clip exceeds %d bytes", maxRemoteClip)
	}
	return data, nil
}

// Router dispatches URL references to an HTTPFetcher and everything else to
// the FileStore.
type Router struct {
	Files  *FileStore
	Remote *HTTPFetcher
}

// Fetch implements audio.Fetcher.
func (r Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if IsRemote(ref) {
		if r.Remote == nil {
			return nil, fmt.Errorf("%w: remote clips disabled", ErrInvalidRef)
		}
		return r.Remote.Fetch(ctx, ref)
	}
	return r.Files.Fetch(ctx, ref)
}

// IsRemote reports whether ref is an http(s) URL.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
