package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const DefaultHubURL = "https://huggingface.co"

// DefaultIgnorePatterns skips weights for frameworks the engine cannot use.
var DefaultIgnorePatterns = []string{"*.msgpack", "flax_model*", "tf_model*", "rust_model*"}

// HubError is a non-2xx answer from the model hub.
type HubError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HubError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("hub request %s failed with http %d", e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HubDownloader fetches a repository snapshot from a Hugging Face style hub.
type HubDownloader struct {
	BaseURL        string
	Token          string
	Revision       string
	IgnorePatterns []string
	HTTPClient     *http.Client
}

func NewHubDownloader(baseURL, token string) *HubDownloader {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultHubURL
	}
	return &HubDownloader{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Token:          token,
		Revision:       "main",
		IgnorePatterns: DefaultIgnorePatterns,
		HTTPClient:     &http.Client{},
	}
}

type hubFile struct {
	Name string
	Size int64
}

// Download lists the repository, then streams every wanted file into dir.
// Files are written to a temporary name and renamed once complete.
func (h *HubDownloader) Download(ctx context.Context, modelID, dir string, progress Progress) error {
	files, err := h.listFiles(ctx, modelID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("repository %s has no downloadable files", modelID)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	var done int64
	report := func(n int64) {
		done += n
		if progress != nil {
			progress(done, total)
		}
	}
	report(0)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.fetch(ctx, modelID, f.Name, dir, report); err != nil {
			return fmt.Errorf("download %s: %w", f.Name, err)
		}
	}
	return nil
}

func (h *HubDownloader) listFiles(ctx context.Context, modelID string) ([]hubFile, error) {
	endpoint := fmt.Sprintf("%s/api/models/%s?blobs=true", h.BaseURL, escapeRepo(modelID))
	if rev := h.revision(); rev != "main" {
		endpoint = fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true", h.BaseURL, escapeRepo(modelID), url.PathEscape(rev))
	}
	resp, err := h.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		Siblings []struct {
			RFilename string `json:"rfilename"`
			Size      int64  `json:"size"`
		} `json:"siblings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}

	files := make([]hubFile, 0, len(payload.Siblings))
	for _, s := range payload.Siblings {
		name := strings.TrimSpace(s.RFilename)
		if name == "" || h.ignored(name) {
			continue
		}
		files = append(files, hubFile{Name: name, Size: s.Size})
	}
	return files, nil
}

func (h *HubDownloader) fetch(ctx context.Context, modelID, name, dir string, report func(int64)) error {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if rel, err := filepath.Rel(dir, target); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to write outside %s", dir)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/resolve/%s/%s", h.BaseURL, escapeRepo(modelID), url.PathEscape(h.revision()), escapeRepo(name))
	resp, err := h.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".partial-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, &countingReader{r: resp.Body, report: report}); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (h *HubDownloader) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		_ = resp.Body.Close()
		return nil, &HubError{URL: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// ignored matches patterns against both the full repository path and the
// base name, so "*.msgpack" also skips nested files.
func (h *HubDownloader) ignored(name string) bool {
	for _, pattern := range h.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, path.Base(name)); ok {
			return true
		}
	}
	return false
}

func (h *HubDownloader) revision() string {
	if strings.TrimSpace(h.Revision) == "" {
		return "main"
	}
	return h.Revision
}

// IsHubError reports whether err came from a non-2xx hub response.
func IsHubError(err error) bool {
	var he *HubError
	return errors.As(err, &he)
}

func escapeRepo(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type countingReader struct {
	r      io.Reader
	report func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.report(int64(n))
	}
	return n, err
}
