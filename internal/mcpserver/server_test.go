package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/reconcile"
	"github.com/starford/inkwell/internal/testutil"
)

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testServer(t *testing.T) (*Server, contents.Store) {
	t.Helper()
	_, store := testutil.FSStore(t)
	clock := testutil.FixedClock(t, "2024-06-01")
	svc := posts.NewService(store, postindex.New(store, ""), posts.Config{Now: clock})
	srv := New(Deps{
		Posts:     svc,
		Images:    images.New(store, images.WithClock(clock)),
		Reconcile: reconcile.Options{Now: clock},
	}, "test")
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_posts":      srv.listPosts,
		"read_post":       srv.readPost,
		"create_post":     srv.createPost,
		"update_post":     srv.updatePost,
		"delete_posts":    srv.deletePosts,
		"list_images":     srv.listImages,
		"upload_image":    srv.uploadImage,
		"reconcile":       srv.reconcile,
		"get_post_format": srv.getPostFormat,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func resultJSON[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(resultText(r)), &v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return v
}

func TestCreateReadUpdatePost(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_post", map[string]any{
		"title":   "hello",
		"content": "# Hello\nWorld",
		"tags":    []any{"go", " "},
	})
	if r.IsError {
		t.Fatalf("create: %s", resultText(r))
	}
	created := resultJSON[models.Post](t, r)
	if created.Slug != "2024-06-01-hello" || created.Category != posts.DefaultCategory {
		t.Errorf("created = %+v", created)
	}
	if len(created.Tags) != 1 || created.Tags[0] != "go" {
		t.Errorf("tags = %v", created.Tags)
	}

	r = callTool(t, srv, "read_post", map[string]any{"slug": created.Slug})
	detail := resultJSON[posts.Detail](t, r)
	if detail.Content != "# Hello\nWorld" || !detail.Indexed {
		t.Errorf("read = %+v", detail)
	}

	r = callTool(t, srv, "update_post", map[string]any{"slug": created.Slug, "content": "v2"})
	if r.IsError {
		t.Fatalf("update: %s", resultText(r))
	}
	updated := resultJSON[models.Post](t, r)
	if updated.Title != "hello" || updated.Date != "2024-06-01" || len(updated.Tags) != 1 {
		t.Errorf("update should keep title, date and tags: %+v", updated)
	}

	r = callTool(t, srv, "create_post", map[string]any{"title": "hello", "content": "again"})
	if !r.IsError {
		t.Error("duplicate slug should fail")
	}
}

func TestCreatePostValidation(t *testing.T) {
	srv, store := testServer(t)
	r := callTool(t, srv, "create_post", map[string]any{"title": "a/b", "content": "x"})
	if !r.IsError {
		t.Error("title with / should fail")
	}
	if entries, _ := store.List(context.Background(), "posts"); len(entries) != 0 {
		t.Errorf("nothing should be written, got %v", entries)
	}
	r = callTool(t, srv, "create_post", map[string]any{"title": "a"})
	if !r.IsError {
		t.Error("missing content should fail")
	}
}

func TestListPosts(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_post", map[string]any{"title": "alpha", "content": "a"})
	callTool(t, srv, "create_post", map[string]any{"title": "beta", "content": "b", "tags": []any{"go"}})

	list := resultJSON[[]models.Post](t, callTool(t, srv, "list_posts", map[string]any{}))
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	list = resultJSON[[]models.Post](t, callTool(t, srv, "list_posts", map[string]any{"query": "GO"}))
	if len(list) != 1 || list[0].Title != "beta" {
		t.Errorf("filtered = %+v", list)
	}
	list = resultJSON[[]models.Post](t, callTool(t, srv, "list_posts", map[string]any{"sort": "title-desc"}))
	if list[0].Title != "beta" {
		t.Errorf("sorted = %+v", list)
	}
}

func TestReadPostMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_post", map[string]any{"slug": "nope"})
	if !r.IsError || resultText(r) != "not found: nope" {
		t.Errorf("result = %q, error = %v", resultText(r), r.IsError)
	}
}

func TestDeletePosts(t *testing.T) {
	srv, store := testServer(t)
	callTool(t, srv, "create_post", map[string]any{"title": "a", "content": "x"})
	callTool(t, srv, "create_post", map[string]any{"title": "b", "content": "x"})

	r := callTool(t, srv, "delete_posts", map[string]any{"slugs": []any{"2024-06-01-a", "2024-06-01-b"}})
	if r.IsError {
		t.Fatalf("delete: %s", resultText(r))
	}
	if res := resultJSON[deleteResult](t, r); len(res.Deleted) != 2 {
		t.Errorf("deleted = %v", res.Deleted)
	}
	snap, err := postindex.New(store, "").Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Value) != 0 {
		t.Errorf("index = %+v", snap.Value)
	}
}

func TestUploadImageDataURI(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)

	r := callTool(t, srv, "upload_image", map[string]any{"url": uri, "filename": "chart"})
	if r.IsError {
		t.Fatalf("upload: %s", resultText(r))
	}
	res := resultJSON[uploadResult](t, r)
	if !strings.HasPrefix(res.Path, "image/") || !strings.HasSuffix(res.Path, "-chart.png") {
		t.Errorf("path = %q", res.Path)
	}
	if !strings.HasPrefix(res.Markdown, "![chart.png](") {
		t.Errorf("markdown = %q", res.Markdown)
	}

	list := resultJSON[[]models.Image](t, callTool(t, srv, "list_images", map[string]any{}))
	if len(list) != 1 {
		t.Errorf("images = %+v", list)
	}
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("just text"))
	if r := callTool(t, srv, "upload_image", map[string]any{"url": uri}); !r.IsError {
		t.Error("text disguised as png should fail")
	}
	if r := callTool(t, srv, "upload_image", map[string]any{"url": "data:image/png,raw"}); !r.IsError {
		t.Error("non-base64 data URI should fail")
	}
	if r := callTool(t, srv, "upload_image", map[string]any{"url": "ftp://example.com/a.png"}); !r.IsError {
		t.Error("ftp should fail")
	}
}

func TestUploadImageHTTP(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pics/cat.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngData)
	}))
	defer ts.Close()

	r := callTool(t, srv, "upload_image", map[string]any{"url": ts.URL + "/pics/cat.png"})
	if !r.IsError || !strings.Contains(resultText(r), "loopback") {
		t.Errorf("loopback fetch should be blocked, got %q", resultText(r))
	}

	srv.fetcher.checkHost = func(string) error { return nil }
	r = callTool(t, srv, "upload_image", map[string]any{"url": ts.URL + "/pics/cat.png"})
	if r.IsError {
		t.Fatalf("upload: %s", resultText(r))
	}
	if res := resultJSON[uploadResult](t, r); !strings.HasSuffix(res.Path, "-cat.png") {
		t.Errorf("path = %q", res.Path)
	}

	r = callTool(t, srv, "upload_image", map[string]any{"url": ts.URL + "/missing.png"})
	if !r.IsError || !strings.Contains(resultText(r), "HTTP 404") {
		t.Errorf("missing = %q", resultText(r))
	}
}

func TestReconcileTool(t *testing.T) {
	srv, store := testServer(t)
	if _, err := store.Put(context.Background(), "posts/2024-01-01-lost.md", []byte("lost body"), "seed", ""); err != nil {
		t.Fatal(err)
	}

	report := resultJSON[reconcile.Report](t, callTool(t, srv, "reconcile", map[string]any{}))
	if len(report.Orphans) != 1 || report.Healed {
		t.Errorf("report = %+v", report)
	}
	report = resultJSON[reconcile.Report](t, callTool(t, srv, "reconcile", map[string]any{"heal": true}))
	if !report.Healed {
		t.Errorf("report = %+v, want healed", report)
	}
	if r := callTool(t, srv, "read_post", map[string]any{"slug": "2024-01-01-lost"}); r.IsError {
		t.Errorf("healed post unreadable: %s", resultText(r))
	}
}

func TestPostFormat(t *testing.T) {
	srv, _ := testServer(t)
	if text := resultText(callTool(t, srv, "get_post_format", nil)); text != PostFormatContract {
		t.Error("tool should return the contract")
	}
	res, err := srv.readPostFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := res[0].(mcp.TextResourceContents)
	if !ok || tc.URI != "inkwell://post-format" || tc.MIMEType != "text/markdown" {
		t.Errorf("resource = %+v", res[0])
	}
}

func TestDetectMIME(t *testing.T) {
	cases := []struct {
		data     string
		declared string
		want     string
		wantErr  bool
	}{
		{string(pngData), "", "image/png", false},
		{"<?xml version=\"1.0\"?><svg xmlns=\"http://www.w3.org/2000/svg\"></svg>", "image/svg+xml", "image/svg+xml", false},
		{"hello", "image/png", "", true},
	}
	for _, c := range cases {
		got, err := detectMIME([]byte(c.data), c.declared)
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("detectMIME(%.10q) = %q, %v", c.data, got, err)
		}
	}
}
