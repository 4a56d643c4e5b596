package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skuraya/conductor/internal/lock"
	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/yamlio"
)

const snapshotFile = "tasks.yaml"

// File is a Memory queue that writes a durable snapshot of its contents to
// <dir>/tasks.yaml after every mutation. The snapshot is a recovery trail:
// a restarted daemon reads it to report tasks that were in flight when the
// previous process died.
type File struct {
	mem     *Memory
	dir     string
	lockMap *lock.MutexMap
}

func NewFile(dir string, lockMap *lock.MutexMap) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure queue dir: %w", err)
	}
	return &File{
		mem:     NewMemory(),
		dir:     dir,
		lockMap: lockMap,
	}, nil
}

func (q *File) Path() string {
	return filepath.Join(q.dir, snapshotFile)
}

func (q *File) Enqueue(t *model.QueueTask) error {
	if err := q.mem.Enqueue(t); err != nil {
		return err
	}
	return q.persist()
}

func (q *File) Peek() (*model.QueueTask, error) {
	return q.mem.Peek()
}

func (q *File) Dequeue() (*model.QueueTask, error) {
	t, err := q.mem.Dequeue()
	if err != nil {
		return nil, err
	}
	if err := q.persist(); err != nil {
		return t, err
	}
	return t, nil
}

func (q *File) Len() int {
	return q.mem.Len()
}

func (q *File) persist() error {
	key := "queue:" + q.dir
	q.lockMap.Lock(key)
	defer q.lockMap.Unlock(key)

	snap := model.TaskSnapshot{
		SchemaVersion: model.TaskSnapshotSchemaVersion,
		FileType:      model.TaskSnapshotFileType,
		Tasks:         q.mem.snapshot(),
	}
	if err := yamlio.AtomicWrite(q.Path(), snap); err != nil {
		return fmt.Errorf("persist queue snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the task records left behind in dir by a previous
// process. A missing snapshot yields no records.
func LoadSnapshot(dir string) ([]model.TaskRecord, error) {
	path := filepath.Join(dir, snapshotFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var snap model.TaskSnapshot
	if err := yamlio.ReadInto(path, &snap); err != nil {
		return nil, err
	}
	if snap.FileType != model.TaskSnapshotFileType {
		return nil, fmt.Errorf("unexpected queue file type %q", snap.FileType)
	}
	return snap.Tasks, nil
}
