package contents

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
)

const (
	DefaultGitHubAPI = "https://api.github.com"

	mediaTypeJSON = "application/vnd.github+json"
	mediaTypeRaw  = "application/vnd.github.raw+json"
)

// TokenSource returns the credential to send with the next request. It is
// called per request so a token set or cleared at runtime takes effect
// immediately.
type TokenSource func() string

// StaticToken returns a TokenSource that always yields tok.
func StaticToken(tok string) TokenSource {
	return func() string { return tok }
}

// GitHubConfig addresses one branch of one repository.
type GitHubConfig struct {
	APIURL    string
	Owner     string
	Repo      string
	Branch    string
	PublicURL string        // optional; defaults to raw.githubusercontent.com
	Timeout   time.Duration // zero keeps the transport default
}

// GitHub implements Store on the GitHub Contents API.
type GitHub struct {
	client *req.Client
	cfg    GitHubConfig
	token  TokenSource
}

type ghContent struct {
	Type        string `json:"type"`
	Encoding    string `json:"encoding"`
	Size        int64  `json:"size"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

type ghWriteResponse struct {
	Content ghContent `json:"content"`
}

type ghPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type ghDeleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

type ghError struct {
	Message string `json:"message"`
}

// NewGitHub creates a Contents API client. Requests are never retried.
func NewGitHub(cfg GitHubConfig, token TokenSource) *GitHub {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGitHubAPI
	}
	client := req.C().
		SetBaseURL(strings.TrimSuffix(cfg.APIURL, "/")).
		SetUserAgent("inkwell").
		SetCommonHeader("Accept", mediaTypeJSON).
		SetCommonHeader("X-GitHub-Api-Version", "2022-11-28").
		SetCommonRetryCount(0).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &GitHub{client: client, cfg: cfg, token: token}
}

func (g *GitHub) endpoint(p string) string {
	segs := strings.Split(CleanPath(p), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), strings.Join(segs, "/"))
}

func (g *GitHub) request(ctx context.Context) (*req.Request, error) {
	tok := ""
	if g.token != nil {
		tok = g.token()
	}
	if tok == "" {
		return nil, apperr.ErrSetupRequired
	}
	return g.client.R().SetContext(ctx).SetBearerAuthToken(tok), nil
}

// Get reads path at the configured branch.
func (g *GitHub) Get(ctx context.Context, p string) (*models.RemoteFile, error) {
	r, err := g.request(ctx)
	if err != nil {
		return nil, err
	}
	var file ghContent
	var ghErr ghError
	resp, err := r.SetQueryParam("ref", g.cfg.Branch).
		SetSuccessResult(&file).
		SetErrorResult(&ghErr).
		Get(g.endpoint(p))
	if err := g.check(resp, err, http.MethodGet, p, ghErr); err != nil {
		return nil, err
	}
	if file.Type != "" && file.Type != "file" {
		return nil, &apperr.StoreError{Op: http.MethodGet, Path: p, Status: resp.StatusCode,
			Message: fmt.Sprintf("%s is a %s, not a file", p, file.Type)}
	}

	var data []byte
	switch {
	case file.Encoding == "base64":
		data, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("contents: decode %s: %w", p, err)
		}
	case file.Size > 0:
		// Files over 1 MB come back with encoding "none"; fetch raw bytes.
		data, err = g.getRaw(ctx, p)
		if err != nil {
			return nil, err
		}
	}

	return &models.RemoteFile{
		Path:        file.Path,
		Content:     data,
		SHA:         file.SHA,
		Size:        int64(len(data)),
		DownloadURL: g.downloadURL(p, file.DownloadURL),
	}, nil
}

func (g *GitHub) getRaw(ctx context.Context, p string) ([]byte, error) {
	r, err := g.request(ctx)
	if err != nil {
		return nil, err
	}
	var ghErr ghError
	resp, err := r.SetQueryParam("ref", g.cfg.Branch).
		SetHeader("Accept", mediaTypeRaw).
		SetErrorResult(&ghErr).
		Get(g.endpoint(p))
	if err := g.check(resp, err, http.MethodGet, p, ghErr); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

// Put creates or overwrites path.
func (g *GitHub) Put(ctx context.Context, p string, content []byte, message, expectedSHA string) (*models.RemoteFile, error) {
	r, err := g.request(ctx)
	if err != nil {
		return nil, err
	}
	var out ghWriteResponse
	var ghErr ghError
	resp, err := r.SetBody(&ghPutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  g.cfg.Branch,
		SHA:     expectedSHA,
	}).
		SetSuccessResult(&out).
		SetErrorResult(&ghErr).
		Put(g.endpoint(p))
	if err := g.check(resp, err, http.MethodPut, p, ghErr); err != nil {
		return nil, err
	}
	return &models.RemoteFile{
		Path:        out.Content.Path,
		Content:     content,
		SHA:         out.Content.SHA,
		Size:        int64(len(content)),
		DownloadURL: g.downloadURL(p, out.Content.DownloadURL),
	}, nil
}

// Delete removes path.
func (g *GitHub) Delete(ctx context.Context, p, expectedSHA, message string) error {
	r, err := g.request(ctx)
	if err != nil {
		return err
	}
	var ghErr ghError
	resp, err := r.SetBody(&ghDeleteRequest{
		Message: message,
		SHA:     expectedSHA,
		Branch:  g.cfg.Branch,
	}).
		SetErrorResult(&ghErr).
		Delete(g.endpoint(p))
	return g.check(resp, err, http.MethodDelete, p, ghErr)
}

// List returns the entries of dir.
func (g *GitHub) List(ctx context.Context, dir string) ([]models.Entry, error) {
	r, err := g.request(ctx)
	if err != nil {
		return nil, err
	}
	var items []ghContent
	var ghErr ghError
	resp, err := r.SetQueryParam("ref", g.cfg.Branch).
		SetSuccessResult(&items).
		SetErrorResult(&ghErr).
		Get(g.endpoint(dir))
	if err := g.check(resp, err, http.MethodGet, dir, ghErr); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return []models.Entry{}, nil
		}
		return nil, err
	}
	out := make([]models.Entry, 0, len(items))
	for _, it := range items {
		out = append(out, models.Entry{
			Name:        it.Name,
			Path:        it.Path,
			SHA:         it.SHA,
			Size:        it.Size,
			Type:        it.Type,
			DownloadURL: g.downloadURL(it.Path, it.DownloadURL),
		})
	}
	return out, nil
}

// PublicURL returns the content-delivery URL of path.
func (g *GitHub) PublicURL(p string) string {
	return g.downloadURL(p, "")
}

func (g *GitHub) downloadURL(p, fromAPI string) string {
	if g.cfg.PublicURL != "" {
		return strings.TrimSuffix(g.cfg.PublicURL, "/") + "/" + CleanPath(p)
	}
	if fromAPI != "" {
		return fromAPI
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s",
		g.cfg.Owner, g.cfg.Repo, g.cfg.Branch, CleanPath(p))
}

// check maps a transport error or non-2xx response onto the apperr taxonomy.
func (g *GitHub) check(resp *req.Response, reqErr error, method, p string, ghErr ghError) error {
	if reqErr != nil {
		return fmt.Errorf("contents: %s %s: %w", method, p, reqErr)
	}
	if !resp.IsErrorState() {
		return nil
	}
	msg := ghErr.Message
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("contents: %s %s: %w", method, p, apperr.ErrNotFound)
	case http.StatusConflict:
		return apperr.NewConflict(p, msg)
	case http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(msg), "sha") {
			return apperr.NewConflict(p, msg)
		}
	}
	return &apperr.StoreError{Op: method, Path: p, Status: resp.StatusCode, Message: msg}
}
