package rbtlog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/reprowatch/internal/model"
)

// Defaults for the public IzzyOnDroid rbtlog repository on Codeberg.
const (
	DefaultBaseURL = "https://codeberg.org/api/v1/repos"
	DefaultRepo    = "IzzyOnDroid/rbtlog"
	DefaultLogDir  = "logs"
	DefaultTimeout = 30 * time.Second

	// maxLogSize bounds how much of a response body is read.
	maxLogSize = 16 << 20
)

// Source fetches the raw verification log for one application.
type Source interface {
	Fetch(ctx context.Context, app model.AppSpec) ([]byte, error)
}

// CodebergSource reads logs through the Gitea/Forgejo "contents" API, which
// wraps file bodies in a JSON envelope with base64 content.
type CodebergSource struct {
	BaseURL string
	Repo    string
	LogDir  string
	Client  *http.Client
}

// NewCodebergSource returns a source with defaults filled in for empty fields.
func NewCodebergSource(baseURL, repo string, timeout time.Duration) *CodebergSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if repo == "" {
		repo = DefaultRepo
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CodebergSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Repo:    strings.Trim(repo, "/"),
		LogDir:  DefaultLogDir,
		Client:  &http.Client{Timeout: timeout},
	}
}

// contentsResponse is the subset of the contents API payload we use.
type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// URL returns the contents API URL for an application's log.
func (s *CodebergSource) URL(app model.AppSpec) string {
	return fmt.Sprintf("%s/%s/contents/%s/%s", s.BaseURL, s.Repo, s.LogDir, url.PathEscape(app.LogFileName()))
}

// Fetch retrieves and decodes the log. All failures are *FetchError.
func (s *CodebergSource) Fetch(ctx context.Context, app model.AppSpec) ([]byte, error) {
	target := s.URL(app)

	body, err := get(ctx, s.client(), app.ID, target)
	if err != nil {
		return nil, err
	}

	var resp contentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{AppID: app.ID, URL: target, Err: fmt.Errorf("decode contents response: %w", err)}
	}
	if resp.Encoding != "" && resp.Encoding != "base64" {
		return nil, &FetchError{AppID: app.ID, URL: target, Err: fmt.Errorf("unsupported content encoding %q", resp.Encoding)}
	}

	// The API wraps base64 at 60 columns on some deployments.
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(resp.Content)
	decoded, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, &FetchError{AppID: app.ID, URL: target, Err: fmt.Errorf("decode base64 content: %w", err)}
	}
	return decoded, nil
}

func (s *CodebergSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// RawSource fetches log files directly, e.g. from a raw file URL or a mirror.
// URLTemplate may contain {app_id} and {log_file} placeholders.
type RawSource struct {
	URLTemplate string
	Client      *http.Client
}

// URL renders the template for an application.
func (s *RawSource) URL(app model.AppSpec) string {
	return strings.NewReplacer(
		"{app_id}", url.PathEscape(app.ID),
		"{log_file}", url.PathEscape(app.LogFileName()),
	).Replace(s.URLTemplate)
}

// Fetch returns the response body unchanged.
func (s *RawSource) Fetch(ctx context.Context, app model.AppSpec) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	return get(ctx, client, app.ID, s.URL(app))
}

// get performs a GET honoring ctx and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, appID, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{AppID: appID, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{AppID: appID, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLogSize))
		return nil, &FetchError{AppID: appID, URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogSize))
	if err != nil {
		return nil, &FetchError{AppID: appID, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
