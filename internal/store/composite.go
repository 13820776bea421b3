package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/models"
)

// Composite serves state from a dedicated StateStore and everything else
// from a base Store.
type Composite struct {
	Store
	state StateStore
}

// Compile-time check that Composite implements Store.
var _ Store = (*Composite)(nil)

// NewComposite routes state calls to state and the rest to base.
func NewComposite(base Store, state StateStore) *Composite {
	return &Composite{Store: base, state: state}
}

func (c *Composite) LoadState(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	return c.state.LoadState(ctx, sessionID)
}

func (c *Composite) SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	return c.state.SaveState(ctx, sessionID, state, expectedVersion)
}

func (c *Composite) DeleteState(ctx context.Context, sessionID string) error {
	return c.state.DeleteState(ctx, sessionID)
}

// Close closes the state store when it has a Close method, then the base.
func (c *Composite) Close() error {
	var errs []error
	if closer, ok := c.state.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, c.Store.Close())
	return errors.Join(errs...)
}

// MirroredTranscripts writes every transcript entry to a secondary
// TranscriptStore after the primary write succeeds. Reads are served by the
// primary. Mirror failures are never returned; when an outbox is set the
// entry is queued for retry.
type MirroredTranscripts struct {
	Store
	mirror TranscriptStore
	outbox OutboxRepo
}

// Compile-time check that MirroredTranscripts implements Store.
var _ Store = (*MirroredTranscripts)(nil)

// MirrorTranscripts wraps primary so transcript appends also reach mirror.
// outbox may be nil.
func MirrorTranscripts(primary Store, mirror TranscriptStore, outbox OutboxRepo) *MirroredTranscripts {
	return &MirroredTranscripts{Store: primary, mirror: mirror, outbox: outbox}
}

func (m *MirroredTranscripts) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	if err := m.Store.AppendTranscript(ctx, entry); err != nil {
		return err
	}
	err := m.mirror.AppendTranscript(ctx, entry)
	if err == nil {
		return nil
	}
	if m.outbox == nil {
		slog.Warn("MirroredTranscripts.AppendTranscript: mirror write failed", "sessionID", entry.SessionID, "error", err)
		return nil
	}
	id, qerr := m.outbox.EnqueueOutboxMessage(ctx, entry)
	if qerr != nil {
		slog.Error("MirroredTranscripts.AppendTranscript: mirror write lost", "sessionID", entry.SessionID, "error", err, "enqueueError", qerr)
		return nil
	}
	slog.Warn("MirroredTranscripts.AppendTranscript: mirror write queued for retry", "sessionID", entry.SessionID, "outboxID", id, "error", err)
	return nil
}
