package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Dedup record lifetimes. A processing claim is short so a crashed holder
// does not wedge retries for long; completed results live long enough to
// absorb client retry storms; failures age out fast so a transient error
// can be retried with the same command id.
const (
	DedupProcessingTTL = 10 * time.Minute
	DedupCompletedTTL  = time.Hour
	DedupFailedTTL     = 60 * time.Second
)

// DedupStatus is the lifecycle of a command id.
type DedupStatus string

const (
	DedupProcessing DedupStatus = "processing"
	DedupCompleted  DedupStatus = "completed"
	DedupFailed     DedupStatus = "failed"
)

// DedupRecord is what a duplicate submission gets back instead of a second
// execution.
type DedupRecord struct {
	Status DedupStatus     `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// DedupStore claims command ids so each command executes at most once per
// room, across instances.
type DedupStore struct {
	kv KV
}

func NewDedupStore(kv KV) *DedupStore {
	return &DedupStore{kv: kv}
}

func dedupKey(roomID, playerID, commandID string) string {
	return "action:" + commandID + ":" + playerID + ":" + roomID
}

// Begin claims a command id for its submitter. When the claim is fresh it
// returns (nil, nil) and the caller proceeds; otherwise it returns the
// existing record.
func (ds *DedupStore) Begin(ctx context.Context, roomID, playerID, commandID string) (*DedupRecord, error) {
	claim, err := json.Marshal(DedupRecord{Status: DedupProcessing})
	if err != nil {
		return nil, err
	}
	ok, err := ds.kv.SetNX(ctx, dedupKey(roomID, playerID, commandID), claim, DedupProcessingTTL)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	b, err := ds.kv.Get(ctx, dedupKey(roomID, playerID, commandID))
	if errors.Is(err, ErrNotFound) {
		// Claim expired between SetNX and Get; treat as a duplicate in
		// flight and let the client retry.
		return &DedupRecord{Status: DedupProcessing}, nil
	}
	if err != nil {
		return nil, err
	}
	var rec DedupRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Complete stores the command's result for replay to duplicates.
func (ds *DedupStore) Complete(ctx context.Context, roomID, playerID, commandID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	b, err := json.Marshal(DedupRecord{Status: DedupCompleted, Result: raw})
	if err != nil {
		return err
	}
	return ds.kv.Set(ctx, dedupKey(roomID, playerID, commandID), b, DedupCompletedTTL)
}

// Fail marks the command failed with a short TTL so the same id can be
// retried after transient errors.
func (ds *DedupStore) Fail(ctx context.Context, roomID, playerID, commandID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	b, err := json.Marshal(DedupRecord{Status: DedupFailed, Result: raw})
	if err != nil {
		return err
	}
	return ds.kv.Set(ctx, dedupKey(roomID, playerID, commandID), b, DedupFailedTTL)
}
