// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes inkwell tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/editor"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/reconcile"
)

const formatURI = "inkwell://post-format"

// Deps are the services the tools act on.
type Deps struct {
	Posts     *posts.Service
	Images    *images.Manager
	Reconcile reconcile.Options
}

// Server wraps the MCP server with inkwell tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps

	fetcher *fetcher
}

// New creates a new MCP server with all inkwell tools registered.
func New(deps Deps, version string) *Server {
	s := &Server{deps: deps, fetcher: newFetcher()}

	s.mcp = server.NewMCPServer(
		"Inkwell",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List posts from the index, newest first."),
		mcp.WithString("query", mcp.Description("Optional filter matched against title, category and tags")),
		mcp.WithString("sort", mcp.Description("Sort order"), mcp.Enum("date-desc", "date-asc", "title-asc", "title-desc")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read a post's index record and its Markdown body."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Post slug, e.g. 2024-06-01-hello")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("create_post",
		mcp.WithDescription("Create a post: writes posts/<slug>.md, then adds its index record. "+
			"Read the format contract first via get_post_format or the "+formatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Post title; no / or \\")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body without front matter")),
		mcp.WithString("category", mcp.Description("Category, defaults to the configured one")),
		mcp.WithArray("tags", mcp.Description("Tags"), mcp.WithStringItems()),
	), s.createPost)

	s.mcp.AddTool(mcp.NewTool("update_post",
		mcp.WithDescription("Update an existing post. The slug and date never change."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Slug of the post to update")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown body")),
		mcp.WithString("title", mcp.Description("New title, defaults to the current one")),
		mcp.WithString("category", mcp.Description("New category, defaults to the current one")),
		mcp.WithArray("tags", mcp.Description("New tags, default to the current ones"), mcp.WithStringItems()),
	), s.updatePost)

	s.mcp.AddTool(mcp.NewTool("delete_posts",
		mcp.WithDescription("Delete posts and their index records. Stops at the first failed file delete; "+
			"posts deleted before it are still removed from the index."),
		mcp.WithArray("slugs", mcp.Required(), mcp.Description("Slugs to delete"), mcp.WithStringItems()),
	), s.deletePosts)

	s.mcp.AddTool(mcp.NewTool("list_images",
		mcp.WithDescription("List uploaded images with their public URLs."),
	), s.listImages)

	s.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Upload an image from an http(s) URL or a base64 data URI. "+
			"Returns the stored image and a Markdown reference."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
	), s.uploadImage)

	s.mcp.AddTool(mcp.NewTool("reconcile",
		mcp.WithDescription("Compare post files with the index. With heal, add records for "+
			"unlisted files and drop records whose file is gone, in one index write."),
		mcp.WithBoolean("heal", mcp.Description("Fix the index")),
	), s.reconcile)

	s.mcp.AddTool(mcp.NewTool("get_post_format",
		mcp.WithDescription("Returns the inkwell post format contract. "+
			"Call this before creating or updating posts."),
	), s.getPostFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Post Format Contract",
			mcp.WithResourceDescription("How inkwell stores posts, the index and images."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPostFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrConflict) {
		return mcp.NewToolResultError(err.Error() + " (read again and retry)")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.deps.Posts.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	list := editor.FilterPosts(snap.Value, req.GetString("query", ""), req.GetString("sort", ""))
	return jsonResult(list)
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.deps.Posts.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slug)), nil
		}
		return errorResult(err), nil
	}
	return jsonResult(d)
}

func (s *Server) createPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saved, err := s.deps.Posts.Create(ctx, posts.Input{
		Title:    title,
		Category: req.GetString("category", ""),
		Tags:     req.GetStringSlice("tags", nil),
		Content:  content,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(saved)
}

func (s *Server) updatePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.deps.Posts.Get(ctx, slug)
	if err != nil {
		return errorResult(err), nil
	}
	if !d.Indexed {
		return mcp.NewToolResultError(fmt.Sprintf("%s has no index record; run reconcile with heal first", slug)), nil
	}
	saved, err := s.deps.Posts.Update(ctx, d.Post, posts.Input{
		Title:    req.GetString("title", d.Post.Title),
		Category: req.GetString("category", d.Post.Category),
		Tags:     req.GetStringSlice("tags", d.Post.Tags),
		Content:  content,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(saved)
}

type deleteResult struct {
	Deleted []string `json:"deleted"`
	Error   string   `json:"error,omitempty"`
}

func (s *Server) deletePosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slugs, err := req.RequireStringSlice("slugs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deleted, err := s.deps.Posts.DeleteMany(ctx, slugs)
	if deleted == nil {
		deleted = []string{}
	}
	if err != nil {
		if len(deleted) == 0 {
			return errorResult(err), nil
		}
		res, _ := jsonResult(deleteResult{Deleted: deleted, Error: err.Error()})
		res.IsError = true
		return res, nil
	}
	return jsonResult(deleteResult{Deleted: deleted})
}

func (s *Server) listImages(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.deps.Images.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(list)
}

func (s *Server) reconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := s.deps.Reconcile
	opts.Heal = req.GetBool("heal", false)
	report, err := reconcile.Run(ctx, s.deps.Posts.Store(), s.deps.Posts.Index(), opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

func (s *Server) getPostFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormatContract), nil
}

func (s *Server) readPostFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PostFormatContract,
		},
	}, nil
}
