package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/drafts"
	"github.com/starford/inkwell/internal/feed"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/watch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendGitHub = "github"
	BackendFS     = "fs"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Auth   AuthConfig        `yaml:"auth"`
	Store  StoreConfig       `yaml:"store"`
	Site   SiteConfig        `yaml:"site"`
	Editor EditorConfig      `yaml:"editor"`
	Local  LocalConfig       `yaml:"local"`
	SSE    SSEConfig         `yaml:"sse"`
	Watch  WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.Editor.Validate(); err != nil {
		return fmt.Errorf("editor: %w", err)
	}
	return validation.ValidateStruct(&c.Local,
		validation.Field(&c.Local.Path, validation.Required),
	)
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFormat is "json" or "text". Text output is coloured on a terminal.
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration for the REST API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// StoreConfig selects where the site repository lives.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	GitHub  GitHubConfig `yaml:"github"`
	FS      FSConfig     `yaml:"fs"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendGitHub, BackendFS)),
	); err != nil {
		return err
	}
	if c.Backend == BackendFS {
		return validation.ValidateStruct(&c.FS,
			validation.Field(&c.FS.Root, validation.Required),
		)
	}
	return validation.ValidateStruct(&c.GitHub,
		validation.Field(&c.GitHub.Owner, validation.Required),
		validation.Field(&c.GitHub.Repo, validation.Required),
		validation.Field(&c.GitHub.Branch, validation.Required),
		validation.Field(&c.GitHub.Timeout, validation.Min(time.Duration(0))),
	)
}

// GitHubConfig addresses the repository through the Contents API. Token
// may be left empty and entered at runtime; a runtime token wins.
type GitHubConfig struct {
	APIURL    string        `yaml:"api_url"`
	Owner     string        `yaml:"owner"`
	Repo      string        `yaml:"repo"`
	Branch    string        `yaml:"branch"`
	Token     string        `yaml:"token"`
	PublicURL string        `yaml:"public_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FSConfig points at a local checkout of the repository.
type FSConfig struct {
	Root      string `yaml:"root"`
	PublicURL string `yaml:"public_url"`
}

// SiteConfig describes the published blog and its layout in the repository.
type SiteConfig struct {
	IndexPath   string `yaml:"index_path"`
	PostsDir    string `yaml:"posts_dir"`
	ImageDir    string `yaml:"image_dir"`
	BaseURL     string `yaml:"base_url"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	FeedPath    string `yaml:"feed_path"`
	SitemapPath string `yaml:"sitemap_path"`
	FeedItems   int    `yaml:"feed_items"`
	// Timezone post dates are interpreted in for feed timestamps.
	Timezone string `yaml:"timezone"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IndexPath, validation.Required),
		validation.Field(&c.PostsDir, validation.Required),
		validation.Field(&c.ImageDir, validation.Required),
		validation.Field(&c.FeedItems, validation.Min(0)),
		validation.Field(&c.Timezone, validation.By(func(v any) error {
			if tz, _ := v.(string); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("unknown timezone %q", tz)
				}
			}
			return nil
		})),
	)
}

// Location returns the configured time zone, UTC when unset.
func (c *SiteConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Feed returns the feed description of the site.
func (c *SiteConfig) Feed() feed.Site {
	return feed.Site{
		Title:       c.Title,
		BaseURL:     c.BaseURL,
		Description: c.Description,
		Language:    c.Language,
		FeedPath:    c.FeedPath,
		Items:       c.FeedItems,
		Location:    c.Location(),
	}
}

// EditorConfig tunes the editing session.
type EditorConfig struct {
	DefaultCategory string        `yaml:"default_category"`
	AutosaveDelay   time.Duration `yaml:"autosave_delay"`
	TemplatesDir    string        `yaml:"templates_dir"`
	MaxImageBytes   int64         `yaml:"max_image_bytes"`
}

// Validate validates the editor configuration.
func (c *EditorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AutosaveDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxImageBytes, validation.Min(int64(0))),
	)
}

// LocalConfig locates the local state database (token and drafts).
type LocalConfig struct {
	Path string `yaml:"path"`
}

// SSEConfig tunes the event stream.
type SSEConfig struct {
	// IndexThrottle is the minimum gap between index.updated events.
	IndexThrottle time.Duration `yaml:"index_throttle"`
}

// WatchConfig controls the checkout watcher of the fs backend.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Store: StoreConfig{
			Backend: BackendGitHub,
			GitHub: GitHubConfig{
				Branch: "main",
			},
			FS: FSConfig{
				Root: "./site",
			},
		},
		Site: SiteConfig{
			IndexPath:   postindex.DefaultPath,
			PostsDir:    posts.DefaultDir,
			ImageDir:    images.DefaultDir,
			Language:    "zh-CN",
			FeedPath:    "rss.xml",
			SitemapPath: "sitemap.xml",
			FeedItems:   feed.DefaultItems,
		},
		Editor: EditorConfig{
			DefaultCategory: posts.DefaultCategory,
			AutosaveDelay:   drafts.DefaultDelay,
			MaxImageBytes:   images.DefaultMaxBytes,
		},
		Local: LocalConfig{
			Path: "./inkwell.db",
		},
		SSE: SSEConfig{
			IndexThrottle: 2 * time.Second,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: watch.DefaultDebounce,
		},
	}
}
