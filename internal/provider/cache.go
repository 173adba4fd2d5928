package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// PromptCacheKey computes the SHA-256 digest over the stable system prompt,
// the sorted repo-context file list, and the repository's current HEAD.
// Any change to one of the three invalidates the key, so a provider's
// upstream prompt cache (when it offers one) is reused across turns only
// while all three stay identical (spec §4.2).
func PromptCacheKey(systemPrompt string, contextFiles []string, repoPath string) string {
	sorted := append([]string(nil), contextFiles...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(repoHead(repoPath)))

	return hex.EncodeToString(h.Sum(nil))
}

// repoHead returns the repository's current HEAD commit hash, or "" if
// repoPath is not a git repository (e.g. a scratch directory) — the cache
// key still degrades gracefully, it just loses HEAD-based invalidation.
func repoHead(repoPath string) string {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return ""
	}

	ref, err := repo.Reference(plumbing.HEAD, true)
	if err != nil {
		return ""
	}

	return ref.Hash().String()
}
