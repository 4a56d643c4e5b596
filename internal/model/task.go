package model

import (
	"fmt"
	"sync"
	"time"
)

// QueueTask is one pending follow-up on an order: a payment retry, a
// messaging retry of a particular kind, or an employee escalation retry.
// FirstAttemptAt is stamped lazily when the drain loop first sees the task,
// not at enqueue time, and drives the per-task timeout independently of the
// order's overall budgets.
type QueueTask struct {
	ID    string
	Order *Order
	Type  TaskType
	Kind  MessageKind

	mu           sync.Mutex
	firstAttempt time.Time
}

func NewQueueTask(o *Order, taskType TaskType, kind MessageKind) (*QueueTask, error) {
	if !IsValidTaskType(taskType) {
		return nil, fmt.Errorf("invalid task type: %s", taskType)
	}
	id, err := GenerateID(IDTypeTask)
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	return &QueueTask{
		ID:    id,
		Order: o,
		Type:  taskType,
		Kind:  kind,
	}, nil
}

// StampFirstAttempt records now as the first drain attempt if none has been
// recorded yet, and returns the stamped time either way.
func (t *QueueTask) StampFirstAttempt(now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.firstAttempt.IsZero() {
		t.firstAttempt = now
	}
	return t.firstAttempt
}

func (t *QueueTask) FirstAttemptAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstAttempt
}

// TaskRecord is the serialized form of a QueueTask used by the durable
// queue snapshot and the dead-letter archive.
type TaskRecord struct {
	ID             string      `yaml:"id"`
	OrderID        string      `yaml:"order_id"`
	Type           TaskType    `yaml:"type"`
	Kind           MessageKind `yaml:"kind"`
	FirstAttemptAt string      `yaml:"first_attempt_at,omitempty"`
	ArchivedAt     string      `yaml:"archived_at,omitempty"`
	ArchiveReason  string      `yaml:"archive_reason,omitempty"`
}

// Record snapshots the task for persistence.
func (t *QueueTask) Record() TaskRecord {
	rec := TaskRecord{
		ID:      t.ID,
		OrderID: t.Order.ID,
		Type:    t.Type,
		Kind:    t.Kind,
	}
	if fa := t.FirstAttemptAt(); !fa.IsZero() {
		rec.FirstAttemptAt = fa.UTC().Format(time.RFC3339)
	}
	return rec
}

// TaskSnapshot is the on-disk queue file format.
type TaskSnapshot struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	Tasks         []TaskRecord `yaml:"tasks"`
}

const (
	TaskSnapshotSchemaVersion = 1
	TaskSnapshotFileType      = "queue_task"
)
