// Package audit appends and queries the tamper-evident audit log: every
// entry is hash-chained to the previous entry for the same agent, so any
// edit or deletion downstream of an entry invalidates every later
// integrity hash.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/storage"
)

// Logger appends audit entries for a single agent, chaining each new
// entry's integrity hash to the previous one it wrote.
type Logger struct {
	backend storage.Backend
	agentID string
}

// NewLogger returns a Logger scoped to agentID.
func NewLogger(backend storage.Backend, agentID string) *Logger {
	return &Logger{backend: backend, agentID: agentID}
}

// Log appends one audit entry for action, chaining it to this agent's most
// recent entry. commitHash may be the zero value when the action isn't
// tied to a specific commit.
func (l *Logger) Log(ctx context.Context, action, message string, commitHash hash.Digest) error {
	prevHash, err := l.lastIntegrityHash(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	timestamp := time.Now().UTC()
	chainHash := computeAuditHash(id, timestamp.Format(time.RFC3339), l.agentID, action, message, string(commitHash), prevHash)

	var commitPtr *hash.Digest
	if commitHash != "" {
		commitPtr = &commitHash
	}

	entry := storage.LogEntry{
		ID:                id,
		Timestamp:         timestamp,
		AgentID:           l.agentID,
		Action:            action,
		Message:           message,
		CommitHash:        commitPtr,
		Level:             "info",
		IntegrityHash:     chainHash,
		PrevIntegrityHash: prevHash,
	}
	return l.backend.AppendLog(ctx, entry)
}

func (l *Logger) lastIntegrityHash(ctx context.Context) (string, error) {
	entries, err := l.backend.QueryLogs(ctx, storage.LogFilter{AgentID: l.agentID, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].IntegrityHash, nil
}

func computeAuditHash(id, timestamp, agentID, action, message, commitHash, prevHash string) string {
	h := sha256.New()
	for i, part := range []string{id, timestamp, agentID, action, message, commitHash, prevHash} {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify re-derives every entry's integrity hash in order and confirms the
// chain is unbroken, returning the index of the first tampered entry (or
// -1 if the whole chain verifies).
func Verify(entries []storage.LogEntry) int {
	var prevHash string
	for i, e := range entries {
		commitHash := ""
		if e.CommitHash != nil {
			commitHash = string(*e.CommitHash)
		}
		expected := computeAuditHash(e.ID, e.Timestamp.Format(time.RFC3339), e.AgentID, e.Action, e.Message, commitHash, prevHash)
		if expected != e.IntegrityHash {
			return i
		}
		prevHash = e.IntegrityHash
	}
	return -1
}

// ParseSince resolves a natural-language time expression ("yesterday",
// "3 days ago", "last week") relative to now, for use as a LogFilter.Since
// bound in CLI-adjacent tooling.
func ParseSince(expr string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: parse %q: %w", expr, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("audit: could not resolve %q to a time", expr)
	}
	return result.Time, nil
}
