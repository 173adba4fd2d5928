package worktree

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/clawde-io/clawd/internal/domain"
)

// initTestRepo builds a bare-minimum git repo with a single commit on
// branch "main", entirely through go-git so the test doesn't depend on a
// git binary being installed.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}

	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatal(err)
	}
	sig := object.Signature{Name: "test", Email: "test@localhost", When: time.Now().UTC()}
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}

	mainRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)
	if err := repo.Storer.SetReference(mainRef); err != nil {
		t.Fatal(err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainRef.Name())); err != nil {
		t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: mainRef.Name(), Force: true}); err != nil {
		t.Fatal(err)
	}

	return dir
}

type fakeWorktreeStorage struct {
	mu        sync.Mutex
	worktrees map[string]*domain.Worktree
}

func newFakeWorktreeStorage() *fakeWorktreeStorage {
	return &fakeWorktreeStorage{worktrees: make(map[string]*domain.Worktree)}
}

func (f *fakeWorktreeStorage) Worktrees() domain.WorktreeRepo { return fakeRepo{f} }

// The remaining domain.Storage methods are unused by the Worktree Manager
// and are not expected to be called; each panics so a test would fail
// loudly if the Manager ever reached outside its documented scope.
func (f *fakeWorktreeStorage) Sessions() domain.SessionRepo         { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) Messages() domain.MessageRepo         { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) ToolCalls() domain.ToolCallRepo       { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) ToolResults() domain.ToolResultFullRepo {
	panic("unused in worktree tests")
}
func (f *fakeWorktreeStorage) TokenUsage() domain.TokenUsageRepo { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) ContextSnapshots() domain.ContextSnapshotRepo {
	panic("unused in worktree tests")
}
func (f *fakeWorktreeStorage) ResourceMetrics() domain.ResourceMetricRepo {
	panic("unused in worktree tests")
}
func (f *fakeWorktreeStorage) Pairing() domain.PairingRepo         { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) DeadLetters() domain.DeadLetterRepo  { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) APITokens() domain.APITokenRepo      { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) NotificationChannels() domain.NotificationChannelRepo {
	panic("unused in worktree tests")
}
func (f *fakeWorktreeStorage) Search(context.Context, string, int, domain.SearchFilter) ([]domain.SearchHit, error) {
	panic("unused in worktree tests")
}
func (f *fakeWorktreeStorage) Checkpoint(context.Context) error { panic("unused in worktree tests") }
func (f *fakeWorktreeStorage) Close() error                     { panic("unused in worktree tests") }

var _ domain.Storage = (*fakeWorktreeStorage)(nil)

type fakeRepo struct{ f *fakeWorktreeStorage }

func (r fakeRepo) Create(_ context.Context, w *domain.Worktree) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *w
	r.f.worktrees[w.TaskID] = &cp
	return nil
}
func (r fakeRepo) Update(_ context.Context, w *domain.Worktree) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *w
	r.f.worktrees[w.TaskID] = &cp
	return nil
}
func (r fakeRepo) Get(_ context.Context, taskID string) (*domain.Worktree, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	w, ok := r.f.worktrees[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}
func (r fakeRepo) List(_ context.Context, repoPath *string) ([]*domain.Worktree, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.Worktree
	for _, w := range r.f.worktrees {
		if repoPath != nil && w.RepoPath != *repoPath {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}
func (r fakeRepo) Delete(_ context.Context, taskID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.worktrees, taskID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeWorktreeStorage) {
	t.Helper()
	fs := newFakeWorktreeStorage()
	m := New(Config{Storage: fs})
	return m, fs
}

func TestCreateMaterializesWorktreeOnMainBranch(t *testing.T) {
	repoPath := initTestRepo(t)
	m, _ := newTestManager(t)

	w, err := m.Create(context.Background(), "task-1", repoPath, "main")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Branch != "clawd/task/task-1" {
		t.Fatalf("unexpected branch name %q", w.Branch)
	}
	if _, err := os.Stat(filepath.Join(w.WorktreePath, "README.md")); err != nil {
		t.Fatalf("expected README.md checked out into worktree: %v", err)
	}
}

func TestCreateRejectsDuplicateTask(t *testing.T) {
	repoPath := initTestRepo(t)
	m, _ := newTestManager(t)

	if _, err := m.Create(context.Background(), "task-1", repoPath, "main"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(context.Background(), "task-1", repoPath, "main"); err == nil {
		t.Fatal("expected second create for the same task to fail")
	}
}

func TestAcceptSquashMergesAndRemovesWorktree(t *testing.T) {
	repoPath := initTestRepo(t)
	m, _ := newTestManager(t)

	w, err := m.Create(context.Background(), "task-2", repoPath, "main")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := os.WriteFile(filepath.Join(w.WorktreePath, "feature.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	featRepo, err := git.PlainOpen(w.WorktreePath)
	if err != nil {
		t.Fatal(err)
	}
	featWt, err := featRepo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := featWt.Add("feature.txt"); err != nil {
		t.Fatal(err)
	}
	sig := object.Signature{Name: "test", Email: "test@localhost", When: time.Now().UTC()}
	if _, err := featWt.Commit("add feature", &git.CommitOptions{Author: &sig, Committer: &sig}); err != nil {
		t.Fatal(err)
	}

	if err := m.Accept(context.Background(), "task-2"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := os.Stat(w.WorktreePath); !os.IsNotExist(err) {
		t.Fatalf("expected worktree directory removed, stat err=%v", err)
	}

	baseRepo, err := git.PlainOpen(repoPath)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := baseRepo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		t.Fatal(err)
	}
	commit, err := baseRepo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := commit.File("feature.txt"); err != nil {
		t.Fatalf("expected squashed commit to contain feature.txt: %v", err)
	}
}

func TestRejectRemovesWorktreeWithoutMerging(t *testing.T) {
	repoPath := initTestRepo(t)
	m, _ := newTestManager(t)

	w, err := m.Create(context.Background(), "task-3", repoPath, "main")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.Reject(context.Background(), "task-3"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if _, err := os.Stat(w.WorktreePath); !os.IsNotExist(err) {
		t.Fatalf("expected worktree directory removed, stat err=%v", err)
	}
}
