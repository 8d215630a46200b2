package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"runhub/internal/api"
	"runhub/internal/index"
	"runhub/pkg/logging"
)

// Type is the registry key for the filesystem adapter.
const Type = "filesystem"

const maxFileSize = 2 << 20

// Relevance levels the adapter reports for runbook candidates. The matcher
// treats these as the base score and layers its own bonuses on top.
const (
	relevanceExact = 0.6
	relevanceText  = 0.4
)

type frontmatter struct {
	Title       string            `yaml:"title"`
	ContentType string            `yaml:"content_type"`
	Metadata    map[string]string `yaml:"metadata"`
}

// Adapter serves documents from a directory tree. Markdown files carry an
// optional YAML frontmatter block; YAML files are read whole, with the
// title and content_type lifted from their top-level keys.
type Adapter struct {
	name string
	root string

	mu       sync.RWMutex
	docs     map[string]*api.Document
	lastScan time.Time
}

// New constructs a filesystem adapter from its source configuration. The
// root directory comes from the source's path field.
func New(cfg api.SourceConfig) (api.Adapter, error) {
	root, _ := cfg.Extra["path"].(string)
	if root == "" {
		return nil, api.NewError(api.ErrConfiguration,
			"filesystem source %s requires a path", cfg.Name)
	}
	return &Adapter{
		name: cfg.Name,
		root: root,
		docs: make(map[string]*api.Document),
	}, nil
}

// Initialize verifies the root directory and performs the first scan.
func (a *Adapter) Initialize(ctx context.Context, cfg api.SourceConfig) error {
	info, err := os.Stat(a.root)
	if err != nil {
		return api.NewError(api.ErrConfiguration,
			"filesystem source %s: cannot access %s", a.name, a.root).WithCause(err)
	}
	if !info.IsDir() {
		return api.NewError(api.ErrConfiguration,
			"filesystem source %s: %s is not a directory", a.name, a.root)
	}
	return a.scan(ctx)
}

// Search performs tokenized free-text matching over titles and bodies.
func (a *Adapter) Search(ctx context.Context, query string, opts api.SearchOptions) ([]*api.SearchResult, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	var results []*api.SearchResult
	for _, doc := range a.snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchesTypes(doc, opts.Types) {
			continue
		}
		haystack := strings.ToLower(doc.Title + "\n" + doc.Body)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, &api.SearchResult{
			Document:      doc,
			Confidence:    0.8 * float64(hits) / float64(len(tokens)),
			SourceAdapter: a.name,
		})
	}
	sortResults(results)
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// GetDocument fetches a document by its id, the slash-separated path
// relative to the root.
func (a *Adapter) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	a.mu.RLock()
	doc, ok := a.docs[id]
	a.mu.RUnlock()
	if !ok {
		return nil, api.NotFound("document", id)
	}
	copied := *doc
	return &copied, nil
}

// SearchRunbooks returns runbook candidates for the alert. Exact alert
// type hits rank above plain text mentions.
func (a *Adapter) SearchRunbooks(ctx context.Context, query api.RunbookQuery) ([]*api.SearchResult, error) {
	var results []*api.SearchResult
	for _, doc := range a.snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rb, err := index.ParseRunbook(doc)
		if err != nil {
			continue
		}
		switch {
		case rb.MatchesAlertType(query.AlertType):
			results = append(results, &api.SearchResult{
				Runbook:       rb,
				Confidence:    relevanceExact,
				SourceAdapter: a.name,
			})
		case query.AlertType != "" && strings.Contains(strings.ToLower(doc.Title+"\n"+doc.Body), strings.ToLower(query.AlertType)):
			results = append(results, &api.SearchResult{
				Runbook:       rb,
				Confidence:    relevanceText,
				SourceAdapter: a.name,
			})
		}
	}
	sortResults(results)
	return results, nil
}

// HealthCheck probes the root directory.
func (a *Adapter) HealthCheck(ctx context.Context) api.HealthSnapshot {
	start := time.Now()
	_, err := os.Stat(a.root)
	snap := api.HealthSnapshot{
		LastCheckAt: start,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if err != nil {
		snap.Status = api.HealthUnhealthy
		snap.Detail = fmt.Sprintf("stat %s: %v", a.root, err)
		return snap
	}
	snap.Status = api.HealthHealthy
	snap.LastSuccessAt = start
	return snap
}

// Metadata reports the adapter's identity and document count.
func (a *Adapter) Metadata() api.AdapterMetadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return api.AdapterMetadata{
		Name:          a.name,
		Type:          Type,
		DocumentCount: len(a.docs),
		LastUpdated:   a.lastScan,
		Status:        api.StateReady,
	}
}

// Enumerate rescans the directory and streams every document. Each call
// starts a fresh walk; no state carries over between passes.
func (a *Adapter) Enumerate(ctx context.Context, fn api.EnumerateFunc) error {
	if err := a.scan(ctx); err != nil {
		return err
	}
	for _, doc := range a.snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup releases nothing; the adapter holds no external resources.
func (a *Adapter) Cleanup(ctx context.Context) error {
	return nil
}

// scan walks the tree and rebuilds the document map.
func (a *Adapter) scan(ctx context.Context) error {
	docs := make(map[string]*api.Document)
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != a.root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".yaml" && ext != ".yml" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileSize {
			logging.Warn("FSAdapter", "Skipping %s: %d bytes exceeds the size limit", path, info.Size())
			return nil
		}

		doc, err := a.readDocument(path, ext)
		if err != nil {
			logging.Warn("FSAdapter", "Skipping %s: %v", path, err)
			return nil
		}
		docs[doc.ID] = doc
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", a.root, err)
	}

	a.mu.Lock()
	a.docs = docs
	a.lastScan = time.Now()
	a.mu.Unlock()
	return nil
}

func (a *Adapter) readDocument(path, ext string) (*api.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return nil, err
	}

	doc := &api.Document{
		ID:          filepath.ToSlash(rel),
		AdapterName: a.name,
	}

	if ext == ".md" {
		fm, body := splitFrontmatter(string(data))
		doc.Body = body
		doc.Title = fm.Title
		doc.ContentType = fm.ContentType
		doc.Metadata = fm.Metadata
		if doc.Title == "" {
			doc.Title = firstHeading(body)
		}
	} else {
		var fm frontmatter
		if err := yaml.Unmarshal(data, &fm); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rel, err)
		}
		doc.Body = string(data)
		doc.Title = fm.Title
		doc.ContentType = fm.ContentType
		doc.Metadata = fm.Metadata
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(path), ext)
	}
	if doc.ContentType == "" {
		doc.ContentType = "knowledge_base"
	}
	return doc, nil
}

// splitFrontmatter separates an optional leading YAML block delimited by
// --- lines from the markdown body. Malformed frontmatter is treated as
// plain body text.
func splitFrontmatter(content string) (frontmatter, string) {
	var fm frontmatter
	if !strings.HasPrefix(content, "---\n") {
		return fm, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontmatter{}, content
	}
	body := rest[end+4:]
	return fm, strings.TrimPrefix(body, "\n")
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

func matchesTypes(doc *api.Document, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if doc.ContentType == t {
			return true
		}
	}
	return false
}

// snapshot returns the documents in deterministic id order.
func (a *Adapter) snapshot() []*api.Document {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*api.Document, 0, len(a.docs))
	for _, doc := range a.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortResults(results []*api.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Key().String() < results[j].Key().String()
	})
}
