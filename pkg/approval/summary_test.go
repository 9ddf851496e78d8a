package approval

import (
	"strings"
	"testing"

	"github.com/agentbridge/core/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		ctx      *models.ApprovalContext
		fallback string
		want     string
	}{
		{
			name: "write_file",
			ctx: &models.ApprovalContext{
				ToolName: "write_file",
				Input:    map[string]interface{}{"file_path": "main.go", "content": "package main"},
			},
			want: "Allow writing 12 characters to 'main.go'?",
		},
		{
			name: "edit_file",
			ctx: &models.ApprovalContext{
				ToolName: "edit_file",
				Input:    map[string]interface{}{"file_path": "a.go", "old_string": "foo", "new_string": "foobar"},
			},
			want: "Allow editing 'a.go' (replacing 3 chars with 6 chars)?",
		},
		{
			name: "bash",
			ctx: &models.ApprovalContext{
				ToolName: "bash",
				Input:    map[string]interface{}{"command": "rm -rf build"},
			},
			want: "Allow running: rm -rf build",
		},
		{
			name: "git",
			ctx: &models.ApprovalContext{
				ToolName: "git",
				Input:    map[string]interface{}{"operation": "push"},
			},
			want: "Allow git push?",
		},
		{
			name: "unknown tool falls back to generic line",
			ctx:  &models.ApprovalContext{ToolName: "deploy"},
			want: "Allow deploy operation?",
		},
		{
			name:     "nil context uses server prompt",
			ctx:      nil,
			fallback: "Allow this?",
			want:     "Allow this?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.ctx, tt.fallback))
		})
	}
}

func TestSummarizeTruncatesLongCommands(t *testing.T) {
	cmd := strings.Repeat("x", 100)
	got := Summarize(&models.ApprovalContext{
		ToolName: "bash",
		Input:    map[string]interface{}{"command": cmd},
	}, "")

	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, len("Allow running: ")+maxCommandDisplay, len(got))
}
