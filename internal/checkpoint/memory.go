package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store for tests and ephemeral
// runs.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Tuple
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Tuple)}
}

func (s *MemoryStore) Get(ctx context.Context, threadID, checkpointID string) (*Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tuples := s.threads[threadID]
	if len(tuples) == 0 {
		return nil, nil
	}

	if checkpointID == "" {
		latest := tuples[0]
		for _, tuple := range tuples[1:] {
			if tuple.Checkpoint.CreatedAt.After(latest.Checkpoint.CreatedAt) {
				latest = tuple
			}
		}
		return cloneTuple(latest), nil
	}

	for _, tuple := range tuples {
		if tuple.Checkpoint.ID == checkpointID {
			return cloneTuple(tuple), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(ctx context.Context, threadID string, limit int, before string) ([]Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tuples := append([]Tuple(nil), s.threads[threadID]...)
	sort.Slice(tuples, func(i, j int) bool {
		return tuples[i].Checkpoint.CreatedAt.After(tuples[j].Checkpoint.CreatedAt)
	})

	if before != "" {
		for i, tuple := range tuples {
			if tuple.Checkpoint.ID == before {
				tuples = tuples[i+1:]
				break
			}
		}
	}
	if limit > 0 && len(tuples) > limit {
		tuples = tuples[:limit]
	}

	out := make([]Tuple, len(tuples))
	for i, tuple := range tuples {
		out[i] = *cloneTuple(tuple)
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, threadID string, cp Checkpoint, md Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tuples := s.threads[threadID]
	for i, tuple := range tuples {
		if tuple.Checkpoint.ID == cp.ID {
			tuples[i].Checkpoint = cp
			tuples[i].Metadata = md
			return nil
		}
	}
	s.threads[threadID] = append(tuples, Tuple{ThreadID: threadID, Checkpoint: cp, Metadata: md})
	return nil
}

func (s *MemoryStore) PutWrites(ctx context.Context, threadID, checkpointID string, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tuples := s.threads[threadID]
	for i, tuple := range tuples {
		if tuple.Checkpoint.ID != checkpointID {
			continue
		}
		for _, write := range writes {
			if write.Value == nil {
				continue
			}
			replaced := false
			for j, existing := range tuples[i].PendingWrites {
				if existing.Idx == write.Idx {
					tuples[i].PendingWrites[j] = write
					replaced = true
					break
				}
			}
			if !replaced {
				tuples[i].PendingWrites = append(tuples[i].PendingWrites, write)
			}
		}
		sort.Slice(tuples[i].PendingWrites, func(a, b int) bool {
			return tuples[i].PendingWrites[a].Idx < tuples[i].PendingWrites[b].Idx
		})
		return nil
	}
	return nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func cloneTuple(t Tuple) *Tuple {
	out := t
	out.PendingWrites = append([]Write(nil), t.PendingWrites...)
	return &out
}
