// Package memory keeps a bounded per-session conversation history. Sessions are scoped
// by namespace: the same session id in two namespaces names two conversations.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/bull/pdfchat/internal/domain"
)

// Unit is what a Budget counts.
type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

// runesPerToken is the token estimate used when counting tokens.
const runesPerToken = 4

// DefaultBudget matches a small chat model context.
var DefaultBudget = Budget{Limit: 2000, Unit: UnitTokens}

// Store is a conversation memory. Sessions never share turns, within or across
// namespaces. A blank namespace is domain.DefaultNamespace.
type Store interface {
	// Append adds turns to a session, assigning their Seq, then evicts the oldest turns
	// until the session fits its budget. The last appended turn is never evicted.
	Append(ctx context.Context, namespace, sessionID string, turns ...domain.Turn) error
	// History returns the session's turns, oldest first.
	History(ctx context.Context, namespace, sessionID string) ([]domain.Turn, error)
}

var (
	_ Store = (*Local)(nil)
	_ Store = (*RedisStore)(nil)
)

// Budget bounds the size of a session's history.
type Budget struct {
	Limit int
	Unit  Unit
}

// Validate reports whether the budget is usable.
func (b Budget) Validate() error {
	if b.Limit <= 0 {
		return fmt.Errorf("%w: memory budget must be positive, got %d", domain.ErrInvalidArgument, b.Limit)
	}
	switch b.Unit {
	case UnitChars, UnitTokens:
		return nil
	default:
		return fmt.Errorf("%w: unknown memory budget unit %q", domain.ErrInvalidArgument, b.Unit)
	}
}

// Cost returns the size of text in the budget's unit.
func (b Budget) Cost(text string) int {
	n := utf8.RuneCountInString(text)
	if b.Unit == UnitTokens {
		return (n + runesPerToken - 1) / runesPerToken
	}
	return n
}

// truncate shortens text to the longest prefix that fits the whole budget.
func (b Budget) truncate(text string) string {
	maxRunes := b.Limit
	if b.Unit == UnitTokens {
		maxRunes = b.Limit * runesPerToken
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes])
}

// fit appends turns to history and evicts from the front until the total cost is within
// the budget. Seq values continue from the last turn of history.
func (b Budget) fit(history []domain.Turn, turns []domain.Turn) []domain.Turn {
	var seq int64
	if len(history) > 0 {
		seq = history[len(history)-1].Seq
	}

	out := append(make([]domain.Turn, 0, len(history)+len(turns)), history...)
	for _, t := range turns {
		seq++
		t.Seq = seq
		t.Content = b.truncate(t.Content)
		out = append(out, t)
	}

	total := 0
	for _, t := range out {
		total += b.Cost(t.Content)
	}
	drop := 0
	for total > b.Limit && drop < len(out)-1 {
		total -= b.Cost(out[drop].Content)
		drop++
	}
	return out[drop:]
}

// sessionKey validates sessionID and returns the storage key of the session. Both parts
// are query-escaped so a ':' in either cannot make two sessions collide.
func sessionKey(namespace, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}
	ns := domain.NormalizeNamespace(namespace)
	return url.QueryEscape(ns) + ":" + url.QueryEscape(sessionID), nil
}
