package postindex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/starford/inkwell/internal/models"
)

// Encode renders the index as two-space indented JSON with HTML characters
// left unescaped and no trailing newline. Records are sorted first.
func Encode(posts []models.Post) ([]byte, error) {
	out := normalize(posts)
	Sort(out)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("postindex: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses an index document. Blank content is an empty index.
func Decode(data []byte) ([]models.Post, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Post{}, nil
	}
	var posts []models.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("postindex: decode: %w", err)
	}
	return normalize(posts), nil
}

// Sort orders posts by date, newest first. Equal dates keep their order.
func Sort(posts []models.Post) {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Date > posts[j].Date })
}

func normalize(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
		if out[i].Tags == nil {
			out[i].Tags = []string{}
		}
	}
	return out
}
