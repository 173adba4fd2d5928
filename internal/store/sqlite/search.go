package sqlite

import (
	"context"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
)

// Search runs a full-text query over message content using the FTS5
// porter/unicode61 index, ranked by BM25 (lower is better, negated here so
// callers can sort descending by relevance).
func (s *Storage) Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	fts := s.prefix + "messages_fts"
	messages := s.prefix + "messages"

	sqlQuery := fmt.Sprintf(`
		SELECT m.session_id, m.id, snippet(%s, 0, '[', ']', '...', 8) AS snip, bm25(%s) AS rank
		FROM %s
		JOIN %s AS m ON m.rowid = %s.rowid
		WHERE %s MATCH ?`,
		fts, fts, fts, messages, fts, fts,
	)

	args := []any{query}
	if filter.SessionID != nil {
		sqlQuery += " AND m.session_id = ?"
		args = append(args, *filter.SessionID)
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var h domain.SearchHit
		if err := rows.Scan(&h.SessionID, &h.MessageID, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		// bm25() returns lower-is-better; negate so higher Rank means more relevant.
		h.Rank = -h.Rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
