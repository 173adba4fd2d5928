package worktree

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func nowUTC() time.Time { return time.Now().UTC() }

// resolveBaseBranch defaults to the repo's current HEAD branch when
// baseBranch is empty, matching create()'s optional base_branch param.
func resolveBaseBranch(repoPath, baseBranch string) (string, error) {
	if baseBranch != "" {
		return baseBranch, nil
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("open repo %s: %w", repoPath, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("repo %s HEAD is detached, base_branch is required", repoPath)
	}
	return head.Name().Short(), nil
}

// hasGitBinary reports whether the `git` binary is on PATH, in which case
// `git worktree add` is used directly: go-git v5 does not yet expose a
// first-class worktree API, so shelling out to the real git binary (when
// available) gets native worktree metadata for free, with a manual linked
// worktree as the fallback.
func hasGitBinary() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// addWorktree creates branch off base in repoPath and checks it out into
// dir, preferring `git worktree add` and falling back to a go-git-built
// linked worktree when the git binary is unavailable.
func addWorktree(repoPath, dir, branch, base string) error {
	if hasGitBinary() {
		return addWorktreeViaBinary(repoPath, dir, branch, base)
	}
	return addWorktreeViaGoGit(repoPath, dir, branch, base)
}

func addWorktreeViaBinary(repoPath, dir, branch, base string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("mkdir worktree parent: %w", err)
	}
	cmd := exec.Command("git", "worktree", "add", "-b", branch, dir, base)
	cmd.Dir = repoPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git worktree add: %w: %s", err, stderr.String())
	}
	return nil
}

// addWorktreeViaGoGit builds a linked worktree by hand: create the branch
// in the base repo, write a plain .git file pointing at a private gitdir
// under the base repo's .git/worktrees/<name>, then checkout the branch
// tree into dir via a second *git.Repository opened against that gitdir.
// This mirrors what `git worktree add` itself writes on disk, documented
// here since go-git has no equivalent helper (see DESIGN.md).
func addWorktreeViaGoGit(repoPath, dir, branch, base string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return fmt.Errorf("resolve base branch %s: %w", base, err)
	}

	branchRefName := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, baseRef.Hash())); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}

	commonGitDir := filepath.Join(repoPath, ".git")
	worktreeName := filepath.Base(dir)
	privateGitDir := filepath.Join(commonGitDir, "worktrees", worktreeName)
	if err := os.MkdirAll(privateGitDir, 0o755); err != nil {
		return fmt.Errorf("mkdir private gitdir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir worktree dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte(fmt.Sprintf("gitdir: %s\n", privateGitDir)), 0o644); err != nil {
		return fmt.Errorf("write .git pointer: %w", err)
	}
	if err := os.WriteFile(filepath.Join(privateGitDir, "gitdir"), []byte(filepath.Join(dir, ".git")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write worktree gitdir link: %w", err)
	}
	if err := os.WriteFile(filepath.Join(privateGitDir, "commondir"), []byte("../..\n"), 0o644); err != nil {
		return fmt.Errorf("write commondir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(privateGitDir, "HEAD"), []byte(fmt.Sprintf("ref: %s\n", branchRefName)), 0o644); err != nil {
		return fmt.Errorf("write worktree HEAD: %w", err)
	}

	commit, err := repo.CommitObject(baseRef.Hash())
	if err != nil {
		return fmt.Errorf("load base commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("load base tree: %w", err)
	}
	if err := checkoutTreeTo(tree, dir); err != nil {
		return fmt.Errorf("checkout tree: %w", err)
	}

	return nil
}

// checkoutTreeTo writes every blob in tree to dir, recreating the tree's
// directory structure. Used only by the binary-less fallback path.
func checkoutTreeTo(tree *object.Tree, dir string) error {
	return tree.Files().ForEach(func(f *object.File) error {
		target := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		contents, err := f.Contents()
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if f.Mode.IsRegular() {
			if f.Mode&0o111 != 0 {
				mode = 0o755
			}
		}
		return os.WriteFile(target, []byte(contents), mode)
	})
}

// removeWorktree deletes the worktree directory and branch, preferring
// `git worktree remove` so the base repo's worktree metadata is cleaned up
// correctly.
func removeWorktree(repoPath, dir, branch string) error {
	if hasGitBinary() {
		cmd := exec.Command("git", "worktree", "remove", "--force", dir)
		cmd.Dir = repoPath
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			// Directory may already be gone; fall through to pruning the branch.
			_ = os.RemoveAll(dir)
		}
		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = repoPath
		_ = pruneCmd.Run()
	} else {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove worktree dir: %w", err)
		}
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	if err := repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(branch)); err != nil {
		return fmt.Errorf("remove branch %s: %w", branch, err)
	}
	return nil
}

// diffAgainstBase computes diff/stats for branch against base in one pass
// via go-git's tree diff, so the text diff and the summary stats can never
// disagree with each other.
func diffAgainstBase(repoPath, branch, base string) (*DiffResult, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	baseTree, err := treeForBranch(repo, base)
	if err != nil {
		return nil, fmt.Errorf("load base tree: %w", err)
	}
	branchTree, err := treeForBranch(repo, branch)
	if err != nil {
		return nil, fmt.Errorf("load branch tree: %w", err)
	}

	changes, err := object.DiffTree(baseTree, branchTree)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	patch, err := changes.Patch()
	if err != nil {
		return nil, fmt.Errorf("build patch: %w", err)
	}

	stats := patch.Stats()
	result := DiffStats{FilesChanged: len(stats)}
	for _, s := range stats {
		result.Insertions += s.Addition
		result.Deletions += s.Deletion
		result.Files = append(result.Files, s.Name)
	}

	return &DiffResult{Diff: patch.String(), Stats: result}, nil
}

func treeForBranch(repo *git.Repository, branch string) (*object.Tree, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

// squashMerge rewrites base's tip to contain branch's tree as a single new
// commit, refusing when base's working tree is dirty (spec §4.5
// invariant: "Accept is refused on a dirty base branch").
func squashMerge(repoPath, branch, base, taskID string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("load worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("check base status: %w", err)
	}
	if !status.IsClean() {
		return fmt.Errorf("base branch %s has uncommitted changes, refusing squash merge", base)
	}

	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return fmt.Errorf("resolve base branch: %w", err)
	}
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return fmt.Errorf("resolve task branch: %w", err)
	}
	branchCommit, err := repo.CommitObject(branchRef.Hash())
	if err != nil {
		return fmt.Errorf("load task commit: %w", err)
	}
	tree, err := branchCommit.Tree()
	if err != nil {
		return fmt.Errorf("load task tree: %w", err)
	}

	newCommit := &object.Commit{
		Author: object.Signature{
			Name:  "clawd",
			Email: "clawd@localhost",
			When:  nowUTC(),
		},
		Committer: object.Signature{
			Name:  "clawd",
			Email: "clawd@localhost",
			When:  nowUTC(),
		},
		Message:      fmt.Sprintf("squash task %s (%s)", taskID, branch),
		TreeHash:     tree.Hash,
		ParentHashes: []plumbing.Hash{baseRef.Hash()},
	}

	obj := repo.Storer.NewEncodedObject()
	if err := newCommit.Encode(obj); err != nil {
		return fmt.Errorf("encode squash commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("store squash commit: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(baseRef.Name(), hash)); err != nil {
		return fmt.Errorf("advance base branch: %w", err)
	}

	return wt.Checkout(&git.CheckoutOptions{Branch: baseRef.Name(), Force: true})
}
