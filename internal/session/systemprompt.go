package session

import "fmt"

// SystemPromptBlocks holds the two stable ordered blocks the adapter's
// prompt-cache key is computed over (spec §4.2): coding standards shared by
// every provider, and provider-specific knowledge (CLI quirks, tool
// conventions). Both are static text passed in through Config.SystemPrompt;
// internal/config has no setting for them and cmd/clawd passes none, so
// the daemon runs with both blocks empty.
type SystemPromptBlocks struct {
	CodingStandards  string
	ProviderKnowledge map[string]string
}

// Render assembles the full system prompt for a turn targeting provider.
// The two blocks are concatenated in a fixed order so that an unchanged
// prompt always hashes to the same provider.PromptCacheKey.
func (b SystemPromptBlocks) Render(providerName string) string {
	knowledge := b.ProviderKnowledge[providerName]
	if b.CodingStandards == "" && knowledge == "" {
		return ""
	}
	return fmt.Sprintf("%s\n\n%s", b.CodingStandards, knowledge)
}
