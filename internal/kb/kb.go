// Package kb serves the markdown knowledge base: listing, rendering, and
// lexical search over the documents that also feed the vector index.
package kb

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown documents and for any path that
// resolves outside the knowledge-base root.
var ErrNotFound = errors.New("document not found")

// Metadata is the YAML front matter carried by knowledge-base files.
type Metadata struct {
	Title       string   `yaml:"title" json:"title"`
	Category    string   `yaml:"category" json:"category"`
	Subcategory string   `yaml:"subcategory" json:"subcategory"`
	Tags        []string `yaml:"tags" json:"tags"`
	LastUpdated string   `yaml:"last_updated" json:"last_updated"`
}

// DocumentInfo is a listing entry.
type DocumentInfo struct {
	Path string `json:"path"`
	Metadata
}

// Document is a fully loaded knowledge-base file.
type Document struct {
	DocumentInfo
	Content string `json:"content"`
	HTML    string `json:"html_content"`
}

// Library reads markdown documents under a fixed root directory.
type Library struct {
	root string
	md   goldmark.Markdown
}

func New(root string) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("knowledge base dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge base path %s is not a directory", abs)
	}
	return &Library{root: abs, md: goldmark.New()}, nil
}

// Root returns the absolute knowledge-base root.
func (l *Library) Root() string { return l.root }

// List walks the root and returns metadata for every markdown file except
// README.md, in walk order.
func (l *Library) List() ([]DocumentInfo, error) {
	var docs []DocumentInfo
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") || d.Name() == "README.md" {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		meta, _ := SplitFrontMatter(string(raw))
		if meta.Title == "" {
			meta.Title = d.Name()
		}
		docs = append(docs, DocumentInfo{Path: filepath.ToSlash(rel), Metadata: meta})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Get loads one document by its listing path. Paths resolving outside the
// root are rejected as not found, never read.
func (l *Library) Get(relPath string) (Document, error) {
	full, err := l.resolve(relPath)
	if err != nil {
		return Document{}, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	meta, body := SplitFrontMatter(string(raw))
	if meta.Title == "" {
		meta.Title = filepath.Base(relPath)
	}
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(body), &buf); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}
	return Document{
		DocumentInfo: DocumentInfo{Path: filepath.ToSlash(filepath.Clean(relPath)), Metadata: meta},
		Content:      string(raw),
		HTML:         buf.String(),
	}, nil
}

// resolve maps a listing path to an absolute file path, rejecting absolute
// paths, parent traversal, and non-markdown targets.
func (l *Library) resolve(relPath string) (string, error) {
	relPath = filepath.FromSlash(strings.TrimSpace(relPath))
	if relPath == "" || filepath.IsAbs(relPath) || !filepath.IsLocal(relPath) {
		return "", ErrNotFound
	}
	if !strings.HasSuffix(relPath, ".md") {
		return "", ErrNotFound
	}
	full := filepath.Join(l.root, relPath)
	// belt and braces on top of IsLocal
	if full != l.root && !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return "", ErrNotFound
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}

// SplitFrontMatter separates YAML front matter from the markdown body.
// Content without a front matter block returns empty metadata and the
// input unchanged.
func SplitFrontMatter(content string) (Metadata, string) {
	var meta Metadata
	if !strings.HasPrefix(content, "---") {
		return meta, content
	}
	rest := content[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return meta, content
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &meta); err != nil {
		return Metadata{}, content
	}
	body := rest[idx+4:]
	body = strings.TrimPrefix(body, "\n")
	return meta, strings.TrimSpace(body)
}
