// Package imaging resolves image references and loads them as base64 data
// URLs for providers that inline image bytes into their requests.
package imaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	fetchTimeout = 10 * time.Second

	// maxImageBytes bounds how much of a remote image is accepted.
	maxImageBytes = 20 << 20
)

// Resolver maps raw image references to loadable locations. URLs, absolute
// paths, dot-relative paths and paths that already exist pass through
// verbatim; any other relative path is joined onto BaseDir when set.
type Resolver struct {
	BaseDir    string
	HTTPClient *http.Client // nil = http.DefaultClient
}

// IsURL reports whether ref is an http(s) URL.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Resolve normalizes an image reference to the location it will be loaded
// from. It never touches the filesystem except to probe bare relative paths.
func (r Resolver) Resolve(ref string) string {
	if IsURL(ref) || filepath.IsAbs(ref) {
		return ref
	}
	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	if r.BaseDir != "" {
		return filepath.Join(r.BaseDir, ref)
	}
	return ref
}

// DataURL loads the image behind ref, resolving it first, and returns a
// data:<mime>;base64,<bytes> URL suitable for inlining into a request.
func (r Resolver) DataURL(ctx context.Context, ref string) (string, error) {
	resolved := r.Resolve(ref)

	var raw []byte
	var err error
	if IsURL(resolved) {
		raw, err = r.fetch(ctx, resolved)
	} else {
		raw, err = os.ReadFile(resolved)
	}
	if err != nil {
		return "", fmt.Errorf("loading image %s: %w", ref, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("loading image %s: empty content", ref)
	}

	return "data:" + detectMIME(resolved, raw) + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func (r Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	hc := r.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return raw, nil
}

// detectMIME sniffs the content type from the bytes, trusting the file
// extension when sniffing is inconclusive. Unknown content defaults to PNG.
func detectMIME(path string, raw []byte) string {
	ct := http.DetectContentType(raw)
	if ct != "application/octet-stream" && !strings.HasPrefix(ct, "text/plain") {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return "image/png"
}
