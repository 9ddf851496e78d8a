package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agentbridge/core/config"
	"github.com/agentbridge/core/git"
	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/approval"
	"github.com/agentbridge/core/pkg/models"
	"github.com/agentbridge/core/pkg/session"
	"github.com/agentbridge/core/pkg/snapshot"
	"github.com/agentbridge/core/pkg/stream"
	"github.com/spf13/cobra"
)

// workspaceEditor is the CLI's editor-state source: it knows the working
// directory but has no open buffers, selection, or diagnostics.
type workspaceEditor struct {
	root string
}

func (w *workspaceEditor) WorkspaceRoot() string                    { return w.root }
func (w *workspaceEditor) ForegroundDocuments() []snapshot.Document { return nil }
func (w *workspaceEditor) BackgroundDocuments() []snapshot.Document { return nil }
func (w *workspaceEditor) ActiveSelection() *models.Selection       { return nil }
func (w *workspaceEditor) Diagnostics() []models.Diagnostic         { return nil }

// chatObserver renders coordinator notifications to the terminal.
type chatObserver struct {
	session.NopObserver
}

func (o *chatObserver) EventReceived(env models.EventEnvelope) {
	switch env.Event {
	case models.EventContentBlockDelta:
		var p models.ContentBlockDeltaPayload
		if env.DecodePayload(&p) == nil {
			fmt.Print(p.Delta)
		}
	case models.EventDisplayText:
		var p models.DisplayTextPayload
		if env.DecodePayload(&p) == nil {
			fmt.Printf("\n%s\n", p.Text)
		}
	case models.EventToolPre:
		var p models.ToolPrePayload
		if env.DecodePayload(&p) == nil {
			fmt.Printf("\n[tool] %s\n", p.ToolName)
		}
	case models.EventToolError:
		var p models.ToolErrorPayload
		if env.DecodePayload(&p) == nil {
			fmt.Fprintf(os.Stderr, "\n[tool error] %s: %s\n", p.ToolName, p.Error)
		}
	case models.EventError, models.EventWarning:
		var p models.ErrorPayload
		if env.DecodePayload(&p) == nil {
			msg := p.Error
			if msg == "" {
				msg = p.Message
			}
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", env.Event, msg)
		}
	}
}

func (o *chatObserver) ApprovalRequested(p approval.Pending) {
	remaining := time.Until(p.Deadline).Round(time.Second)
	fmt.Printf("\n[approval] %s\n", p.ContextSummary)
	fmt.Printf("  /allow, /always, or /deny (default %q in %s)\n", p.Default, remaining)
}

func (o *chatObserver) ApprovalResolved(r approval.Resolution) {
	if r.Err != nil {
		fmt.Fprintf(os.Stderr, "\n[approval] failed to submit decision: %v\n", r.Err)
		return
	}
	fmt.Printf("\n[approval] %s (%s)\n", r.Decision, r.Reason)
}

func (o *chatObserver) PromptCompleted(requestID, response string, usage *models.TokenUsage) {
	fmt.Println()
	if usage != nil {
		fmt.Printf("  (%d in / %d out tokens)\n", usage.InputTokens, usage.OutputTokens)
	}
}

func (o *chatObserver) SessionError(err error) {
	fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
}

// sessionConfigFrom maps file configuration onto coordinator settings,
// falling back to defaults for unset values.
func sessionConfigFrom(cfg *config.Config) session.Config {
	snapOpts := snapshot.DefaultOptions()
	if cfg.Snapshot.MaxOpenFiles > 0 {
		snapOpts.MaxOpenFiles = cfg.Snapshot.MaxOpenFiles
	}
	if cfg.Snapshot.MaxDiagnostics > 0 {
		snapOpts.MaxDiagnostics = cfg.Snapshot.MaxDiagnostics
	}

	backoff := stream.DefaultBackoffPolicy()
	if cfg.Stream.InitialBackoffMS > 0 {
		backoff.InitialDelay = time.Duration(cfg.Stream.InitialBackoffMS) * time.Millisecond
	}
	if cfg.Stream.MaxBackoffMS > 0 {
		backoff.MaxDelay = time.Duration(cfg.Stream.MaxBackoffMS) * time.Millisecond
	}
	if cfg.Stream.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.Stream.MaxAttempts
	}

	return session.Config{
		Profile:  cfg.Backend.Profile,
		Backoff:  backoff,
		Snapshot: snapOpts,
	}
}

func NewChatCmd() *cobra.Command {
	var server string
	var profile string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with the agent backend",
		Long: `Opens an interactive prompt. The session is created lazily on the
first message. Lines starting with '/' are commands:
  /allow /always /deny   resolve a pending approval
  /status                show backend session status
  /stop                  stop the session
  /quit                  stop the session and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("chat")

			cfg, err := loadConfig(server, profile)
			if err != nil {
				return err
			}

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			tr := newTransport(cfg)
			defer tr.Close()

			snapshotter := snapshot.New(&workspaceEditor{root: cwd}, git.StateCollector{})
			coordinator := session.NewCoordinator(tr, newCredentialStore(), snapshotter,
				sessionConfigFrom(cfg), &chatObserver{})

			// Config edits re-apply profile, backoff, and snapshot settings to
			// the coordinator for the next session. The backend URL is fixed
			// for the life of the process.
			if path, ferr := config.FindConfigFile(cwd); ferr == nil {
				watcher, werr := config.NewWatcher(path, 500*time.Millisecond, logger, func(updated *config.Config) {
					if profile != "" {
						updated.Backend.Profile = profile
					}
					coordinator.UpdateConfig(sessionConfigFrom(updated))
					logger.Info("Configuration reloaded, session settings apply to the next session")
				})
				if werr == nil {
					defer watcher.Close()
				}
			}

			fmt.Printf("Connected to %s (profile %q). Type a message, /quit to exit.\n", cfg.Backend.BaseURL, cfg.Backend.Profile)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				if strings.HasPrefix(line, "/") {
					if quit := runChatCommand(cmd, coordinator, line); quit {
						return nil
					}
					continue
				}

				if err := coordinator.SubmitPrompt(cmd.Context(), line); err != nil {
					fmt.Fprintf(os.Stderr, "[error] %v\n", err)
					if coordinator.State() == session.StateError {
						fmt.Println("Session reset; try again.")
						coordinator.Reset()
					}
				}
			}

			return coordinator.Stop(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Backend base URL (overrides config)")
	cmd.Flags().StringVar(&profile, "profile", "", "Backend profile (overrides config)")
	return cmd
}

// runChatCommand handles a '/' line. Returns true when the REPL should exit.
func runChatCommand(cmd *cobra.Command, coordinator *session.Coordinator, line string) bool {
	decide := func(decision string) {
		pending := coordinator.PendingApproval()
		if pending == nil {
			fmt.Println("No approval is pending.")
			return
		}
		if err := coordinator.HandleUserDecision(pending.ApprovalID, decision); err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		}
	}

	switch line {
	case "/quit":
		if err := coordinator.Stop(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		}
		return true
	case "/stop":
		if err := coordinator.Stop(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		}
	case "/status":
		status, err := coordinator.Status(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			return false
		}
		fmt.Printf("Session %s: %s (%d messages)\n", status.SessionID, status.Status, status.MessageCount)
	case "/allow":
		decide(approval.DecisionAllow)
	case "/always":
		decide(approval.DecisionAlwaysAllow)
	case "/deny":
		decide(approval.DecisionDeny)
	default:
		fmt.Printf("Unknown command %q\n", line)
	}
	return false
}
