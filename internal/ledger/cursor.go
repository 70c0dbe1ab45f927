package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strconv"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PageRequest selects a window of entries. An empty Cursor starts at the newest entry.
type PageRequest struct {
	Cursor string
	Limit  int
}

func (p PageRequest) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultPageSize
	case p.Limit > maxPageSize:
		return maxPageSize
	}
	return p.Limit
}

// Page holds entries newest first. NextCursor is empty on the last page.
type Page struct {
	Entries    []Entry
	NextCursor string
}

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

// decodeCursor returns the sequence to continue strictly below. Zero means no cursor.
func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

// All lazily walks a user's entries newest first, fetching one page at a time. Starting from
// req.Cursor makes the walk resumable.
func All(ctx context.Context, s Store, userID string, req PageRequest) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			page, err := s.EntriesForUser(ctx, userID, req)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			req.Cursor = page.NextCursor
		}
	}
}
