package approval

import (
	"fmt"

	"github.com/agentbridge/core/pkg/models"
)

// maxCommandDisplay caps shell commands rendered into a summary line.
const maxCommandDisplay = 60

// Summarize renders a short human-readable line describing the gated
// operation. Falls back to the server-supplied prompt when the request
// carries no usable context.
func Summarize(ctx *models.ApprovalContext, fallback string) string {
	if ctx == nil || ctx.ToolName == "" {
		return fallback
	}

	in := ctx.Input
	switch ctx.ToolName {
	case "write_file":
		path := stringField(in, "file_path", "file")
		content := stringField(in, "content", "")
		return fmt.Sprintf("Allow writing %d characters to '%s'?", len(content), path)
	case "edit_file":
		path := stringField(in, "file_path", "file")
		oldLen := len(stringField(in, "old_string", ""))
		newLen := len(stringField(in, "new_string", ""))
		return fmt.Sprintf("Allow editing '%s' (replacing %d chars with %d chars)?", path, oldLen, newLen)
	case "bash":
		cmd := stringField(in, "command", "command")
		if len(cmd) > maxCommandDisplay {
			cmd = cmd[:maxCommandDisplay-3] + "..."
		}
		return fmt.Sprintf("Allow running: %s", cmd)
	case "git":
		op := stringField(in, "operation", "operation")
		return fmt.Sprintf("Allow git %s?", op)
	default:
		return fmt.Sprintf("Allow %s operation?", ctx.ToolName)
	}
}

func stringField(in map[string]interface{}, key, fallback string) string {
	if in == nil {
		return fallback
	}
	if v, ok := in[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
