package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestMutexMap_SerializesSameKey(t *testing.T) {
	m := NewMutexMap()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("shared")
			counter++
			m.Unlock("shared")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestMutexMap_IndependentKeys(t *testing.T) {
	m := NewMutexMap()

	m.Lock("a")
	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()
	<-done
	m.Unlock("a")
}

func TestFileLock_WritesPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.lock")
	fl := NewFileLock(path)

	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("lock file holds %q, want pid %d", data, os.Getpid())
	}

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file must be removed on unlock")
	}
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "conductor.lock"))
	if err := fl.Unlock(); err != nil {
		t.Errorf("Unlock without lock should be a no-op, got %v", err)
	}
}

func TestFileLock_Reacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.lock")
	fl := NewFileLock(path)

	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock returned error: %v", err)
	}
	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	if err := fl.TryLock(); err != nil {
		t.Fatalf("second TryLock returned error: %v", err)
	}
	fl.Unlock()
}
