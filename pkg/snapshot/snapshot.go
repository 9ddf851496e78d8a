// Package snapshot assembles bounded, immutable captures of local editor,
// VCS, and diagnostic state for attachment to session creation and prompts.
package snapshot

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxOpenFiles   = 10
	DefaultMaxDiagnostics = 50
)

// Options selects which sections a snapshot includes and how large the
// bounded sections may grow. Zero limits fall back to the defaults.
type Options struct {
	IncludeOpenFiles   bool
	IncludeGitState    bool
	IncludeDiagnostics bool
	IncludeSelection   bool
	MaxOpenFiles       int
	MaxDiagnostics     int
}

// DefaultOptions includes every section with default bounds.
func DefaultOptions() Options {
	return Options{
		IncludeOpenFiles:   true,
		IncludeGitState:    true,
		IncludeDiagnostics: true,
		IncludeSelection:   true,
		MaxOpenFiles:       DefaultMaxOpenFiles,
		MaxDiagnostics:     DefaultMaxDiagnostics,
	}
}

// Document is one open editor buffer as seen by the EditorState source.
// Path is absolute; an empty Path marks a buffer with no backing file, which
// snapshots skip.
type Document struct {
	Path     string
	Language string
	Content  string
	Cursor   *models.Position
}

// EditorState is the read-only view of the local editor the snapshotter
// pulls from. Foreground documents are the visible ones; cursor positions
// are only meaningful for those.
type EditorState interface {
	WorkspaceRoot() string
	ForegroundDocuments() []Document
	BackgroundDocuments() []Document
	ActiveSelection() *models.Selection
	Diagnostics() []models.Diagnostic
}

// GitCollector provides best-effort repository state for a workspace root.
type GitCollector interface {
	Collect(root string) (*models.GitState, error)
}

// Snapshotter builds ContextSnapshots. It holds no state of its own; every
// Snapshot call is a pure read of the current editor state.
type Snapshotter struct {
	editor EditorState
	git    GitCollector
	logger *logrus.Entry
}

// New creates a snapshotter. git may be nil, in which case snapshots never
// carry git state.
func New(editor EditorState, git GitCollector) *Snapshotter {
	return &Snapshotter{
		editor: editor,
		git:    git,
		logger: logging.NewLogger("snapshot"),
	}
}

// Snapshot builds a fresh snapshot according to opts. Git state is best
// effort: a missing repository or a collection error yields no git section,
// never a failed snapshot.
func (s *Snapshotter) Snapshot(opts Options) *models.ContextSnapshot {
	if opts.MaxOpenFiles <= 0 {
		opts.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if opts.MaxDiagnostics <= 0 {
		opts.MaxDiagnostics = DefaultMaxDiagnostics
	}

	root := s.editor.WorkspaceRoot()
	snap := &models.ContextSnapshot{WorkspaceRoot: root}

	if opts.IncludeOpenFiles {
		snap.OpenFiles = s.collectOpenFiles(root, opts.MaxOpenFiles)
	}

	if opts.IncludeGitState && s.git != nil && root != "" {
		state, err := s.git.Collect(root)
		if err != nil {
			s.logger.WithError(err).Debug("No git state for snapshot")
		} else {
			snap.GitState = state
		}
	}

	if opts.IncludeDiagnostics {
		snap.Diagnostics = s.collectDiagnostics(root, opts.MaxDiagnostics)
	}

	if opts.IncludeSelection {
		snap.Selection = s.collectSelection(root)
	}

	return snap
}

// collectOpenFiles merges foreground and background documents, foreground
// first. Cursor positions are kept only for foreground documents, and
// buffers without a backing path are skipped.
func (s *Snapshotter) collectOpenFiles(root string, limit int) []models.OpenFile {
	var files []models.OpenFile
	seen := make(map[string]struct{})

	add := func(doc Document, foreground bool) {
		if doc.Path == "" || len(files) >= limit {
			return
		}
		if _, dup := seen[doc.Path]; dup {
			return
		}
		seen[doc.Path] = struct{}{}

		f := models.OpenFile{
			Path:     relativize(root, doc.Path),
			Language: doc.Language,
			Content:  doc.Content,
		}
		if foreground {
			f.CursorPosition = doc.Cursor
		}
		files = append(files, f)
	}

	for _, doc := range s.editor.ForegroundDocuments() {
		add(doc, true)
	}
	for _, doc := range s.editor.BackgroundDocuments() {
		add(doc, false)
	}
	return files
}

// collectDiagnostics sorts by severity (stable, preserving discovery order
// within a severity) and truncates to limit.
func (s *Snapshotter) collectDiagnostics(root string, limit int) []models.Diagnostic {
	source := s.editor.Diagnostics()
	diags := make([]models.Diagnostic, len(source))
	copy(diags, source)

	for i := range diags {
		diags[i].Path = relativize(root, diags[i].Path)
	}
	sort.SliceStable(diags, func(i, j int) bool {
		return diags[i].Severity.Rank() < diags[j].Severity.Rank()
	})

	if len(diags) > limit {
		diags = diags[:limit]
	}
	return diags
}

// collectSelection drops empty or whitespace-only selections.
func (s *Snapshotter) collectSelection(root string) *models.Selection {
	sel := s.editor.ActiveSelection()
	if sel == nil || strings.TrimSpace(sel.Text) == "" {
		return nil
	}
	out := *sel
	out.Path = relativize(root, out.Path)
	return &out
}

// relativize expresses path relative to root when it lies under it, and
// leaves it absolute otherwise. Applied uniformly to every path in a
// snapshot.
func relativize(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	return rel
}
