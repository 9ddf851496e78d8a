// Package git reads repository state for context snapshots by shelling out
// to the git binary. Everything here is read-only and best effort.
package git

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/agentbridge/core/pkg/models"
)

// Status contains branch and per-file state for a repository. Paths are
// relative to the repository root, as git reports them.
type Status struct {
	Branch         string   `json:"branch"`
	StagedFiles    []string `json:"staged_files"`
	ModifiedFiles  []string `json:"modified_files"`
	UntrackedFiles []string `json:"untracked_files"`
}

// GetStatus returns the repository status at the given path using a single
// `git status --porcelain=v2 --branch` call.
func GetStatus(path string) (*Status, error) {
	cmd := exec.Command("git", "status", "--porcelain=v2", "--branch")
	cmd.Dir = path
	output, err := cmd.CombinedOutput()
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "not a git repository") {
			return nil, fmt.Errorf("not a git repository: %s", path)
		}
		return nil, fmt.Errorf("failed to get git status: %w, output: %s", err, outputStr)
	}

	return parsePorcelainV2(string(output)), nil
}

// parsePorcelainV2 parses `git status --porcelain=v2 --branch` output.
// Format reference: git-status(1), "Porcelain Format Version 2".
func parsePorcelainV2(output string) *Status {
	status := &Status{}

	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "# ") {
			parts := strings.Fields(line)
			if len(parts) >= 3 && parts[1] == "branch.head" {
				status.Branch = parts[2]
			}
			continue
		}

		switch line[0] {
		case '?':
			// "? <path>"
			parts := strings.SplitN(line, " ", 2)
			if len(parts) == 2 {
				status.UntrackedFiles = append(status.UntrackedFiles, parts[1])
			}
		case '1':
			// "1 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <path>"
			parts := strings.SplitN(line, " ", 9)
			if len(parts) < 9 {
				continue
			}
			recordChange(status, parts[1], parts[8])
		case '2':
			// "2 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <X><score> <path>\t<origPath>"
			parts := strings.SplitN(line, " ", 10)
			if len(parts) < 10 {
				continue
			}
			path := parts[9]
			if tab := strings.IndexByte(path, '\t'); tab >= 0 {
				path = path[:tab]
			}
			recordChange(status, parts[1], path)
		case 'u':
			// "u <XY> <sub> <m1> <m2> <m3> <mW> <h1> <h2> <h3> <path>"
			parts := strings.SplitN(line, " ", 11)
			if len(parts) < 11 {
				continue
			}
			status.StagedFiles = append(status.StagedFiles, parts[10])
			status.ModifiedFiles = append(status.ModifiedFiles, parts[10])
		}
	}

	return status
}

// recordChange files a changed entry under staged and/or modified based on
// its XY field. '.' in either column means unchanged on that side.
func recordChange(status *Status, xy, path string) {
	if len(xy) < 2 {
		return
	}
	if xy[0] != '.' {
		status.StagedFiles = append(status.StagedFiles, path)
	}
	if xy[1] != '.' {
		status.ModifiedFiles = append(status.ModifiedFiles, path)
	}
}

// StateCollector adapts repository status to the snapshot git section.
type StateCollector struct{}

// Collect returns the git state for root, or an error when root is not a
// repository. Callers treat errors as "no git state".
func (StateCollector) Collect(root string) (*models.GitState, error) {
	status, err := GetStatus(root)
	if err != nil {
		return nil, err
	}
	return &models.GitState{
		Branch:         status.Branch,
		StagedFiles:    status.StagedFiles,
		ModifiedFiles:  status.ModifiedFiles,
		UntrackedFiles: status.UntrackedFiles,
	}, nil
}
