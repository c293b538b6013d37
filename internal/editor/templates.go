package editor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template prefills a new post.
type Template struct {
	Name     string   `json:"name" yaml:"name"`
	Title    string   `json:"title" yaml:"title"`
	Category string   `json:"category" yaml:"category"`
	Tags     []string `json:"tags" yaml:"tags"`
	Body     string   `json:"body" yaml:"-"`
}

// BuiltinTemplates are always available.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Name:     "tech",
			Category: "技术",
			Tags:     []string{},
			Body:     "## 背景\n\n## 方案\n\n```go\n\n```\n\n## 总结\n",
		},
		{
			Name:     "notes",
			Category: "学习笔记",
			Tags:     []string{"笔记"},
			Body:     "## 要点\n\n- \n\n## 参考\n\n- \n",
		},
		{
			Name:     "essay",
			Category: "随笔",
			Tags:     []string{},
			Body:     "> \n\n",
		},
	}
}

// LoadTemplates returns the built-in templates followed by every *.md file
// in dir. A file template replaces a built-in of the same name. An empty
// or missing dir yields only the built-ins.
func LoadTemplates(dir string) ([]Template, error) {
	byName := make(map[string]Template)
	var order []string
	add := func(t Template) {
		if _, ok := byName[t.Name]; !ok {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}
	for _, t := range BuiltinTemplates() {
		add(t)
	}

	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			return nil, fmt.Errorf("editor: templates: %w", err)
		}
		sort.Strings(files)
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("editor: read template: %w", err)
			}
			t, err := ParseTemplate(data)
			if err != nil {
				return nil, fmt.Errorf("editor: template %s: %w", filepath.Base(f), err)
			}
			if t.Name == "" {
				t.Name = strings.TrimSuffix(filepath.Base(f), ".md")
			}
			add(t)
		}
	}

	out := make([]Template, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out, nil
}

// ParseTemplate splits YAML front matter (between leading --- lines) from
// the markdown body. Without front matter the whole file is the body.
func ParseTemplate(data []byte) (Template, error) {
	const delim = "---"
	var t Template
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		t.Body = string(data)
		t.Tags = []string{}
		return t, nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		t.Body = string(data)
		t.Tags = []string{}
		return t, nil
	}
	if err := yaml.Unmarshal(rest[:idx], &t); err != nil {
		return Template{}, fmt.Errorf("front matter: %w", err)
	}
	after := rest[idx+1+len(delim):]
	t.Body = strings.TrimLeft(string(after), "\n\r")
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}
