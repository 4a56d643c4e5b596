package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/yamlio"
)

// DeadLetter archives tasks the drain loop abandons, one file per task, so
// an operator can reconstruct what timed out and why.
type DeadLetter struct {
	dir string
}

func NewDeadLetter(dir string) (*DeadLetter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure dead-letter dir: %w", err)
	}
	return &DeadLetter{dir: dir}, nil
}

// Archive writes the task record with the abandonment reason to
// <dir>/<task-id>.yaml.
func (d *DeadLetter) Archive(t *model.QueueTask, reason string) error {
	rec := t.Record()
	rec.ArchivedAt = time.Now().UTC().Format(time.RFC3339)
	rec.ArchiveReason = reason

	path := filepath.Join(d.dir, rec.ID+".yaml")
	if err := yamlio.AtomicWrite(path, rec); err != nil {
		return fmt.Errorf("archive dead letter %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the archived records, in directory order.
func (d *DeadLetter) List() ([]model.TaskRecord, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read dead-letter dir: %w", err)
	}
	var recs []model.TaskRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		var rec model.TaskRecord
		if err := yamlio.ReadInto(filepath.Join(d.dir, e.Name()), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
