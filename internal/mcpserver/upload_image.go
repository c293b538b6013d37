package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/inkwell/internal/images"
)

const maxFetchBytes = 20 << 20 // 20 MB; the image manager applies its own limit

var mimeToExt = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/svg+xml":            ".svg",
	"image/bmp":                ".bmp",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"image/avif":               ".avif",
}

type uploadResult struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

func (s *Server) uploadImage(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := r.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := r.GetString("filename", "")

	var data []byte
	var declared string
	if strings.HasPrefix(rawURL, "data:") {
		data, declared, err = decodeDataURI(rawURL)
	} else {
		data, declared, err = s.fetcher.fetch(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mime, err := detectMIME(data, declared)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if filename == "" {
		filename = filenameFromURL(rawURL)
	}
	filename = withImageExt(path.Base(filename), mime)

	img, err := s.deps.Images.Upload(ctx, images.Upload{Name: filename, MIME: mime, Data: data})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(uploadResult{
		Path:     img.Path,
		SHA:      img.SHA,
		Size:     img.Size,
		URL:      img.URL,
		Markdown: img.Markdown(),
	})
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	return data, mime, nil
}

// fetcher downloads images over http(s), refusing loopback and cloud
// metadata hosts.
type fetcher struct {
	client    *req.Client
	checkHost func(host string) error
}

func newFetcher() *fetcher {
	f := &fetcher{checkHost: checkBlockedHost}
	f.client = req.C().
		SetTimeout(30*time.Second).
		SetUserAgent("inkwell").
		SetRedirectPolicy(
			req.MaxRedirectPolicy(5),
			func(r *http.Request, _ []*http.Request) error { return f.checkHost(r.URL.Hostname()) },
		)
	return f
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := f.checkHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > maxFetchBytes {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxFetchBytes)
	}
	data, err := resp.ToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxFetchBytes)
	}
	return data, strings.Split(resp.GetContentType(), ";")[0], nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let the client report DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// detectMIME trusts the content over the declared type. SVG sniffs as XML
// or text, so it is recognised by its root tag.
func detectMIME(data []byte, declared string) (string, error) {
	sniffed := strings.Split(http.DetectContentType(data), ";")[0]
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed, nil
	}
	prefix := data
	if len(prefix) > 1024 {
		prefix = prefix[:1024]
	}
	if bytes.Contains(prefix, []byte("<svg")) {
		return "image/svg+xml", nil
	}
	if declared == "image/avif" {
		return declared, nil
	}
	return "", fmt.Errorf("content is not an image (declared: %q, detected: %s)", declared, sniffed)
}

// filenameFromURL takes the last path segment of a URL, falling back to a
// UUID for data URIs and extension-less paths.
func filenameFromURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.New().String()
}

// withImageExt makes sure name ends in an image extension matching mime so
// the image listing picks it up.
func withImageExt(name, mime string) string {
	if name == "" || name == "." || name == "/" {
		name = uuid.New().String()
	}
	if images.IsImageName(name) {
		return name
	}
	ext := mimeToExt[mime]
	if ext == "" {
		ext = ".img"
	}
	return name + ext
}
