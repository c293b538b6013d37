package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/contents"
)

// GitHub is an in-process fake of the GitHub Contents API for one repo.
// It keeps files in memory and enforces sha checks the way GitHub does.
type GitHub struct {
	Server *httptest.Server
	Token  string

	mu       sync.Mutex
	files    map[string][]byte
	writes   map[string]int
	failures map[string]fakeFailure
}

type fakeFailure struct {
	status  int
	message string
}

// NewGitHub starts a fake Contents API for owner/repo that requires token.
func NewGitHub(t *testing.T, token string) *GitHub {
	t.Helper()
	g := &GitHub{
		Token:    token,
		files:    make(map[string][]byte),
		writes:   make(map[string]int),
		failures: make(map[string]fakeFailure),
	}
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{repo}/contents/*", g.handleGet)
	r.Put("/repos/{owner}/{repo}/contents/*", g.handlePut)
	r.Delete("/repos/{owner}/{repo}/contents/*", g.handleDelete)
	g.Server = httptest.NewServer(g.auth(r))
	t.Cleanup(g.Server.Close)
	return g
}

// Seed writes a file directly, bypassing sha checks.
func (g *GitHub) Seed(path string, content []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[path] = append([]byte(nil), content...)
}

// File returns the stored content of path.
func (g *GitHub) File(path string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.files[path]
	return data, ok
}

// Writes returns how many successful PUT/DELETE calls touched path.
func (g *GitHub) Writes(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[path]
}

// FailNext makes the next request with method on path answer status.
func (g *GitHub) FailNext(method, path string, status int, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[method+" "+path] = fakeFailure{status: status, message: message}
}

func (g *GitHub) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+g.Token {
			writeFake(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func fakePath(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if p, err := url.PathUnescape(raw); err == nil {
		return p
	}
	return raw
}

// injected reports and consumes a failure registered with FailNext.
func (g *GitHub) injected(w http.ResponseWriter, method, path string) bool {
	key := method + " " + path
	f, ok := g.failures[key]
	if !ok {
		return false
	}
	delete(g.failures, key)
	writeFake(w, f.status, map[string]string{"message": f.message})
	return true
}

func (g *GitHub) handleGet(w http.ResponseWriter, r *http.Request) {
	path := fakePath(r)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.injected(w, http.MethodGet, path) {
		return
	}

	if data, ok := g.files[path]; ok {
		writeFake(w, http.StatusOK, g.entry(path, data, true))
		return
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	var list []map[string]any
	seen := map[string]bool{}
	for p, data := range g.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			dir := rest[:i]
			if !seen[dir] {
				seen[dir] = true
				list = append(list, map[string]any{"type": "dir", "name": dir, "path": prefix + dir})
			}
			continue
		}
		list = append(list, g.entry(p, data, false))
	}
	if len(list) == 0 {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	sort.Slice(list, func(i, j int) bool { return list[i]["name"].(string) < list[j]["name"].(string) })
	writeFake(w, http.StatusOK, list)
}

func (g *GitHub) handlePut(w http.ResponseWriter, r *http.Request) {
	path := fakePath(r)
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": "content is not valid Base64"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.injected(w, http.MethodPut, path) {
		return
	}
	current, exists := g.files[path]
	switch {
	case exists && body.SHA == "":
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
		return
	case exists && body.SHA != checksum.GitBlob(current):
		writeFake(w, http.StatusConflict, map[string]string{"message": path + " does not match " + body.SHA})
		return
	case !exists && body.SHA != "":
		writeFake(w, http.StatusConflict, map[string]string{"message": path + " does not match " + body.SHA})
		return
	}
	g.files[path] = data
	g.writes[path]++
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeFake(w, status, map[string]any{"content": g.entry(path, data, false)})
}

func (g *GitHub) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := fakePath(r)
	var body struct {
		SHA string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.injected(w, http.MethodDelete, path) {
		return
	}
	current, exists := g.files[path]
	if !exists {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if body.SHA == "" {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
		return
	}
	if body.SHA != checksum.GitBlob(current) {
		writeFake(w, http.StatusConflict, map[string]string{"message": path + " does not match " + body.SHA})
		return
	}
	delete(g.files, path)
	g.writes[path]++
	writeFake(w, http.StatusOK, map[string]any{"content": nil})
}

func (g *GitHub) entry(path string, data []byte, withContent bool) map[string]any {
	name := path[strings.LastIndex(path, "/")+1:]
	e := map[string]any{
		"type":         "file",
		"name":         name,
		"path":         path,
		"sha":          checksum.GitBlob(data),
		"size":         len(data),
		"download_url": g.Server.URL + "/raw/" + path,
	}
	if withContent {
		// GitHub wraps base64 at 60 columns.
		enc := base64.StdEncoding.EncodeToString(data)
		var b strings.Builder
		for len(enc) > 60 {
			b.WriteString(enc[:60])
			b.WriteByte('\n')
			enc = enc[60:]
		}
		b.WriteString(enc)
		e["encoding"] = "base64"
		e["content"] = b.String()
	}
	return e
}

func writeFake(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GitHubStore returns a Contents API client pointed at g.
func GitHubStore(g *GitHub) *contents.GitHub {
	return contents.NewGitHub(contents.GitHubConfig{
		APIURL: g.Server.URL,
		Owner:  "owner",
		Repo:   "blog",
		Branch: "main",
	}, contents.StaticToken(g.Token))
}
