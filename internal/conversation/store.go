// Package conversation keeps short per-user conversational memory: a bounded
// turn history, the user's preferred language and the last time the session
// was touched. Sessions are created lazily and evicted after a period of idleness.
package conversation

import (
	"context"
	"time"
)

// Role tags a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Reference limits.
const (
	DefaultMaxHistory = 20
	DefaultIdleTTL    = 30 * time.Minute
	DefaultLanguage   = "en"
)

// Store is the per-user session store. All operations are total: a missing
// session reads as empty history and the default language.
type Store interface {
	// History returns the user's turns, oldest first. Callers own the returned slice.
	History(ctx context.Context, userID string) []Turn
	// Language returns the user's current language code.
	Language(ctx context.Context, userID string) string
	// AddTurn appends a user turn and then an assistant turn, dropping the
	// oldest entries beyond the bound.
	AddTurn(ctx context.Context, userID, userText, assistantText string)
	// SetLanguage sets the user's language, creating the session if needed.
	SetLanguage(ctx context.Context, userID, code string)
	// Clear removes the session. Clearing a missing session is a no-op.
	Clear(ctx context.Context, userID string)
	// Sweep evicts sessions idle for longer than the TTL as of now and
	// returns how many were removed.
	Sweep(ctx context.Context, now time.Time) int
}
