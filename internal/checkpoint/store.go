// Package checkpoint persists orchestration state snapshots keyed by
// conversation thread. Checkpoints are append-only and parent-linked, so a
// thread's history forms a replayable chain. Persistence is best-effort:
// callers log and swallow failures rather than aborting an in-flight run.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// Checkpoint is one durable snapshot of orchestration state.
type Checkpoint struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id,omitempty"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Metadata is free-form annotation stored alongside a checkpoint.
type Metadata map[string]any

// Write is a partial channel update attached to a checkpoint but not yet
// folded into a full snapshot.
type Write struct {
	Idx     int             `json:"idx"`
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// Tuple bundles a checkpoint with its metadata and pending writes.
type Tuple struct {
	ThreadID      string     `json:"thread_id"`
	Checkpoint    Checkpoint `json:"checkpoint"`
	Metadata      Metadata   `json:"metadata,omitempty"`
	PendingWrites []Write    `json:"pending_writes,omitempty"`
}

// Store is the durable persistence contract. Any keyed store satisfies it;
// implementations must make Put idempotent under (threadID, checkpoint.ID).
type Store interface {
	// Get returns the identified checkpoint, or the thread's latest when
	// checkpointID is empty. A missing checkpoint yields (nil, nil).
	Get(ctx context.Context, threadID, checkpointID string) (*Tuple, error)

	// List returns up to limit checkpoints for a thread, newest first.
	// When before names an existing checkpoint, only strictly older entries
	// are returned.
	List(ctx context.Context, threadID string, limit int, before string) ([]Tuple, error)

	// Put upserts a checkpoint with its metadata.
	Put(ctx context.Context, threadID string, cp Checkpoint, md Metadata) error

	// PutWrites attaches pending writes to an existing checkpoint, keyed by
	// (threadID, checkpointID, idx). Writes against a checkpoint that does
	// not exist are silently dropped, never stored as orphans.
	PutWrites(ctx context.Context, threadID, checkpointID string, writes []Write) error

	// DeleteThread removes all checkpoints and writes for a thread.
	DeleteThread(ctx context.Context, threadID string) error
}
