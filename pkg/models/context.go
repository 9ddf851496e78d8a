package models

// Position is a zero-based cursor or range position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a text range in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// OpenFile describes one open editor document included in a snapshot.
type OpenFile struct {
	Path           string    `json:"path"`
	Language       string    `json:"language"`
	Content        string    `json:"content"`
	CursorPosition *Position `json:"cursor_position,omitempty"`
}

// GitState is the best-effort repository state at snapshot time.
type GitState struct {
	Branch         string   `json:"branch"`
	StagedFiles    []string `json:"staged_files"`
	ModifiedFiles  []string `json:"modified_files"`
	UntrackedFiles []string `json:"untracked_files"`
}

// Severity is a diagnostic severity level.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Rank returns the sort rank of a severity; lower sorts first. Unknown
// severities sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	case SeverityHint:
		return 3
	default:
		return 4
	}
}

// Diagnostic is one editor problem (compile error, lint warning, ...).
type Diagnostic struct {
	Path     string   `json:"path"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Range    Range    `json:"range"`
}

// Selection is the active editor selection included in a snapshot.
type Selection struct {
	Path  string `json:"path"`
	Text  string `json:"text"`
	Range Range  `json:"range"`
}

// ContextSnapshot is a point-in-time, size-bounded description of local
// editor, VCS, and diagnostic state. It is attached to session creation and
// to subsequent prompts, and never mutated after construction.
type ContextSnapshot struct {
	WorkspaceRoot string       `json:"workspace_root"`
	OpenFiles     []OpenFile   `json:"open_files"`
	GitState      *GitState    `json:"git_state,omitempty"`
	Diagnostics   []Diagnostic `json:"diagnostics"`
	Selection     *Selection   `json:"selection,omitempty"`
}
