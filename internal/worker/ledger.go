package worker

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// Ledger is the in-memory list of finished jobs for this process lifetime.
// It is append-only; reads are newest first.
type Ledger struct {
	mu      sync.RWMutex
	entries []domain.Summary
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records a finished job
func (l *Ledger) Append(summary domain.Summary) {
	l.mu.Lock()
	l.entries = append(l.entries, summary)
	l.mu.Unlock()
}

// Len returns the number of recorded jobs
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// List returns every summary, most recent first
func (l *Ledger) List() []domain.Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Summary, len(l.entries))
	for i, entry := range l.entries {
		out[len(l.entries)-1-i] = entry
	}
	return out
}

// Page returns up to size summaries, most recent first, starting below cursor.
// An empty cursor starts at the newest entry; size <= 0 returns everything
// from the cursor on. The returned cursor is empty on the last page.
func (l *Ledger) Page(cursor string, size int) ([]domain.Summary, string, error) {
	start, err := DecodeLedgerCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// start is an exclusive upper bound on the ledger index
	if start < 0 || start > len(l.entries) {
		start = len(l.entries)
	}

	out := make([]domain.Summary, 0)
	i := start - 1
	for ; i >= 0; i-- {
		if size > 0 && len(out) == size {
			break
		}
		out = append(out, l.entries[i])
	}

	next := ""
	if i >= 0 {
		next = EncodeLedgerCursor(i + 1)
	}
	return out, next, nil
}

// EncodeLedgerCursor encodes a ledger position as an opaque cursor
func EncodeLedgerCursor(position int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(position)))
}

// DecodeLedgerCursor decodes a cursor built by EncodeLedgerCursor. An empty
// cursor decodes to -1, meaning "start from the newest entry".
func DecodeLedgerCursor(cursor string) (int, error) {
	if cursor == "" {
		return -1, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}

	position, err := strconv.Atoi(string(decoded))
	if err != nil || position < 0 {
		return 0, fmt.Errorf("invalid cursor position %q", string(decoded))
	}
	return position, nil
}
