// Package storage is the persistence collaborator: it files completed
// reports as markdown blobs and hands back ids for later retrieval. The
// orchestrator calls it only at the completed transition.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/metrics"
	"github.com/researchforge/researchd/internal/task"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// ReportInfo describes one stored report.
type ReportInfo struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	Path    string    `json:"path"`
	Created time.Time `json:"created"`
}

// Store writes reports under a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates the reports directory if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save persists a report and returns its storage path. The filename doubles
// as the report id: topic slug, a timestamp, and a task-id fragment so two
// reports on the same topic in the same second cannot collide.
func (s *Store) Save(taskID, topic string, r *task.Report) (string, error) {
	id := fmt.Sprintf("%s_%s_%s", slugify(topic), time.Now().Format("20060102_150405"), shortID(taskID))
	path := filepath.Join(s.dir, id+".md")

	if err := os.WriteFile(path, []byte(r.Body), 0o644); err != nil {
		metrics.ReportSaveErrors.Inc()
		return "", fmt.Errorf("write report: %w", err)
	}
	metrics.ReportsSaved.Inc()
	s.logger.Info("Report saved",
		zap.String("task_id", taskID),
		zap.String("path", path),
	)
	return path, nil
}

// Load returns the markdown content for a report id (filename stem).
func (s *Store) Load(id string) (string, error) {
	// Ids are slugs; reject anything that could escape the reports dir.
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid report id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+".md"))
	if err != nil {
		return "", fmt.Errorf("read report %s: %w", id, err)
	}
	return string(data), nil
}

// List returns stored reports, newest first.
func (s *Store) List() ([]ReportInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var out []ReportInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		out = append(out, ReportInfo{
			ID:      id,
			Topic:   topicFromID(id),
			Path:    filepath.Join(s.dir, e.Name()),
			Created: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func slugify(topic string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(topic), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "report"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug
}

// shortID keeps enough of the task id to tell same-topic reports apart.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if id == "" {
		id = "task"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// topicFromID best-effort reverses slugify for listing, dropping the
// trailing timestamp and task-id fragment.
func topicFromID(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) > 3 {
		parts = parts[:len(parts)-3]
	}
	return strings.Join(parts, " ")
}
