// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ravshansbox/rho-sub003/internal/worktree"
)

// GitHandler serves /api/git/status and /api/git/diff against one repo root.
type GitHandler struct {
	repoRoot string
	executor worktree.GitExecutor
}

// NewGitHandler constructs a GitHandler rooted at repoRoot.
func NewGitHandler(repoRoot string) *GitHandler {
	return &GitHandler{repoRoot: repoRoot, executor: worktree.NewRealGitExecutor()}
}

// Status handles GET /api/git/status.
func (h *GitHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.executor.Status(r.Context(), h.repoRoot)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Diff handles GET /api/git/diff?file=…. It rejects paths that are
// absolute, escape the repo root, or contain a NUL byte, then falls back,
// in order, through unstaged, staged, and a synthetic full-add diff for
// untracked files.
func (h *GitHandler) Diff(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if err := validateRepoRelativePath(file); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	if diff, err := h.diffArgs(ctx, "diff", "--", file); err == nil && diff != "" {
		writePlainDiff(w, diff)
		return
	}
	if diff, err := h.diffArgs(ctx, "diff", "--staged", "--", file); err == nil && diff != "" {
		writePlainDiff(w, diff)
		return
	}

	diff, err := h.syntheticAddDiff(ctx, file)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	writePlainDiff(w, diff)
}

func (h *GitHandler) diffArgs(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", h.repoRoot}, args...)
	return worktree.RunCommand(ctx, full...)
}

// syntheticAddDiff fabricates a full-add diff for an untracked file, the
// same way `git diff` would show it if the file were staged with `git add
// --intent-to-add` first.
func (h *GitHandler) syntheticAddDiff(ctx context.Context, file string) (string, error) {
	out, err := worktree.RunCommand(ctx, "-C", h.repoRoot, "status", "--porcelain", "--", file)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "??") {
		return "", fmt.Errorf("%s has no untracked changes", file)
	}

	// git diff --no-index exits 1 (not 0) when it finds a difference, unlike
	// plain `git diff`; run it directly so that exit code isn't mistaken
	// for failure and the stdout diff text isn't discarded.
	cmd := exec.CommandContext(ctx, "git", "-C", h.repoRoot, "diff", "--no-index", "--", "/dev/null", file)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return stdout.String(), nil
		}
		return "", err
	}
	return stdout.String(), nil
}

func writePlainDiff(w http.ResponseWriter, diff string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(diff))
}

func validateRepoRelativePath(file string) error {
	if file == "" {
		return fmt.Errorf("file is required")
	}
	if strings.ContainsRune(file, 0) {
		return fmt.Errorf("file contains a NUL byte")
	}
	if filepath.IsAbs(file) {
		return fmt.Errorf("file must be relative to the repo root")
	}
	cleaned := filepath.Clean(file)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("file escapes the repo root")
	}
	return nil
}
