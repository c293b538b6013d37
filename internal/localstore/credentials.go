package localstore

import (
	"log/slog"
	"strings"
	"sync"
)

// Credentials resolves the store token: a token set at runtime (persisted
// under KeyToken) wins over the configured one.
type Credentials struct {
	db         *DB
	configured string

	mu    sync.RWMutex
	saved string
}

// NewCredentials loads the persisted token, if any. db may be nil, in which
// case only the configured token is used and SetToken keeps it in memory.
func NewCredentials(db *DB, configured string) *Credentials {
	c := &Credentials{db: db, configured: strings.TrimSpace(configured)}
	if db != nil {
		if tok, ok, err := db.Get(KeyToken); err != nil {
			slog.Warn("load saved token failed", slog.String("error", err.Error()))
		} else if ok {
			c.saved = tok
		}
	}
	return c
}

// Token returns the active token or "" when none is set.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.saved != "" {
		return c.saved
	}
	return c.configured
}

// HasToken reports whether a token is available.
func (c *Credentials) HasToken() bool { return c.Token() != "" }

// SetToken persists tok.
func (c *Credentials) SetToken(tok string) error {
	tok = strings.TrimSpace(tok)
	if c.db != nil && !c.db.readOnly {
		if err := c.db.Set(KeyToken, tok); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.saved = tok
	c.mu.Unlock()
	return nil
}

// ClearToken forgets the saved token and the configured one.
func (c *Credentials) ClearToken() error {
	if c.db != nil && !c.db.readOnly {
		if err := c.db.Delete(KeyToken); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.saved = ""
	c.configured = ""
	c.mu.Unlock()
	return nil
}
