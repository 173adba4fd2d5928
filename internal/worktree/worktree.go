// Package worktree implements the Worktree Manager (spec §4.5): one git
// worktree per task, materialized under the owning repo's
// .claw/worktrees/<task_id>/ directory on a clawd/task/<task_id> branch.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
)

// Publisher fans a worktree lifecycle event out to connected clients,
// satisfied structurally by internal/eventbus.Bus.
type Publisher interface {
	Publish(sessionID, eventType string, payload any)
}

// Manager owns every active worktree. Concurrent accept/reject calls
// against the same task are serialized by a per-task mutex (spec §4.5
// invariant), grounded on the session package's per-actor inbox
// serialization pattern but scoped to a plain mutex map since a worktree
// has no streaming turn to drive.
type Manager struct {
	storage domain.Storage
	pub     Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config bundles a Manager's dependencies.
type Config struct {
	Storage   domain.Storage
	Publisher Publisher
}

// New builds a worktree Manager.
func New(cfg Config) *Manager {
	return &Manager{
		storage: cfg.Storage,
		pub:     cfg.Publisher,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

func (m *Manager) publish(event string, payload any) {
	if m.pub != nil {
		m.pub.Publish("", event, payload)
	}
}

const worktreesSubdir = ".claw/worktrees"

func worktreeDir(repoPath, taskID string) string {
	return filepath.Join(repoPath, worktreesSubdir, taskID)
}

func branchName(taskID string) string {
	return fmt.Sprintf("clawd/task/%s", taskID)
}

// Create implements create(task_id, repo_path, base_branch?): a fresh
// clawd/task/<task_id> branch off base_branch (defaulting to the repo's
// current HEAD), materialized as a worktree under
// repo_path/.claw/worktrees/<task_id>/.
func (m *Manager) Create(ctx context.Context, taskID, repoPath, baseBranch string) (*domain.Worktree, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := m.storage.Worktrees().Get(ctx, taskID); err == nil && existing != nil {
		return nil, fmt.Errorf("worktree: task %s already has a worktree", taskID)
	}

	resolvedBase, err := resolveBaseBranch(repoPath, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("worktree: resolve base branch: %w", err)
	}

	dir := worktreeDir(repoPath, taskID)
	branch := branchName(taskID)

	if err := addWorktree(repoPath, dir, branch, resolvedBase); err != nil {
		return nil, fmt.Errorf("worktree: create: %w", err)
	}

	now := types.NewTime(nowUTC())
	w := &domain.Worktree{
		TaskID:       taskID,
		WorktreePath: dir,
		Branch:       branch,
		RepoPath:     repoPath,
		BaseBranch:   resolvedBase,
		Status:       domain.WorktreeActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.storage.Worktrees().Create(ctx, w); err != nil {
		_ = removeWorktree(repoPath, dir, branch)
		return nil, fmt.Errorf("worktree: persist: %w", err)
	}

	m.publish("worktree.created", map[string]any{"taskId": taskID, "worktreePath": dir, "branch": branch})
	return w, nil
}

// List implements list(repo_path?).
func (m *Manager) List(ctx context.Context, repoPath *string) ([]*domain.Worktree, error) {
	return m.storage.Worktrees().List(ctx, repoPath)
}

// DiffResult is the response shape for diff(task_id).
type DiffResult struct {
	Diff  string
	Stats DiffStats
}

// DiffStats summarizes a DiffResult.
type DiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
	Files        []string
}

// Diff implements diff(task_id): the worktree branch's tree against base,
// computed in one pass via go-git's tree diff so Stats and Diff never
// disagree.
func (m *Manager) Diff(ctx context.Context, taskID string) (*DiffResult, error) {
	w, err := m.storage.Worktrees().Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("worktree: lookup task %s: %w", taskID, err)
	}
	return diffAgainstBase(w.RepoPath, w.Branch, w.BaseBranch)
}

// Accept implements accept(task_id): squash-merge the branch into base,
// then remove the worktree directory and branch. Refused if base is
// dirty.
func (m *Manager) Accept(ctx context.Context, taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	w, err := m.storage.Worktrees().Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("worktree: lookup task %s: %w", taskID, err)
	}
	if w.Status != domain.WorktreeActive {
		return fmt.Errorf("worktree: task %s is not active (status=%s)", taskID, w.Status)
	}

	if err := squashMerge(w.RepoPath, w.Branch, w.BaseBranch, taskID); err != nil {
		return fmt.Errorf("worktree: accept: %w", err)
	}

	if err := removeWorktree(w.RepoPath, w.WorktreePath, w.Branch); err != nil {
		return fmt.Errorf("worktree: accept cleanup: %w", err)
	}

	w.Status = domain.WorktreeMerged
	w.UpdatedAt = types.NewTime(nowUTC())
	if err := m.storage.Worktrees().Update(ctx, w); err != nil {
		return fmt.Errorf("worktree: persist merged status: %w", err)
	}

	m.publish("worktree.accepted", map[string]any{"taskId": taskID})
	return nil
}

// Reject implements reject(task_id): delete the worktree and branch,
// without merging, and mark the task abandoned.
func (m *Manager) Reject(ctx context.Context, taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	w, err := m.storage.Worktrees().Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("worktree: lookup task %s: %w", taskID, err)
	}

	if err := removeWorktree(w.RepoPath, w.WorktreePath, w.Branch); err != nil {
		return fmt.Errorf("worktree: reject cleanup: %w", err)
	}

	w.Status = domain.WorktreeAbandoned
	w.UpdatedAt = types.NewTime(nowUTC())
	if err := m.storage.Worktrees().Update(ctx, w); err != nil {
		return fmt.Errorf("worktree: persist abandoned status: %w", err)
	}

	m.publish("worktree.rejected", map[string]any{"taskId": taskID})
	return nil
}

// Cleanup implements cleanup(): removes worktree directories on disk
// whose task row no longer exists (e.g., a task was deleted out from
// under an active worktree), never touching directories for tasks it
// still has a row for.
func (m *Manager) Cleanup(ctx context.Context) error {
	known, err := m.storage.Worktrees().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("worktree: cleanup: list: %w", err)
	}
	knownIDs := make(map[string]struct{}, len(known))
	byRepo := make(map[string][]string)
	for _, w := range known {
		knownIDs[w.TaskID] = struct{}{}
		byRepo[w.RepoPath] = append(byRepo[w.RepoPath], w.TaskID)
	}

	for repoPath := range byRepo {
		root := filepath.Join(repoPath, worktreesSubdir)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue // no worktrees directory for this repo yet
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, ok := knownIDs[e.Name()]; ok {
				continue
			}
			orphan := filepath.Join(root, e.Name())
			if err := os.RemoveAll(orphan); err != nil {
				return fmt.Errorf("worktree: cleanup: remove orphan %s: %w", orphan, err)
			}
		}
	}
	return nil
}
