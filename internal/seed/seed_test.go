package seed

import (
	"testing"

	"github.com/thillai/mandi/internal/indexer"
	"github.com/thillai/mandi/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRun(t *testing.T) {
	store := openTestStore(t)

	Run(store)

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entities != 5 {
		t.Errorf("entities = %d, want 5", stats.Entities)
	}
	if stats.Tasks == 0 {
		t.Error("no tasks persisted; every demo task must pass validation")
	}
	if stats.Links == 0 {
		t.Error("no person links persisted")
	}

	// Every seeded task carries an assignee within the valid priority range.
	tasks, err := store.ListTasks(storage.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("got %d tasks, want 4", len(tasks))
	}
	for _, task := range tasks {
		if task.PersonID == "" {
			t.Errorf("task %q has no assignee", task.Title)
		}
		if task.Priority < 0 || task.Priority > 2 {
			t.Errorf("task %q priority = %d", task.Title, task.Priority)
		}
	}

	// Each entity is queued for indexing.
	for i := 0; i < 5; i++ {
		job, err := store.ClaimNextJob([]string{indexer.JobReindex})
		if err != nil {
			t.Fatalf("claiming job %d: %v", i, err)
		}
		if job == nil {
			t.Fatalf("only %d reindex jobs enqueued, want 5", i)
		}
	}
}

func TestRun_SecondRunDoesNotAbort(t *testing.T) {
	store := openTestStore(t)

	Run(store)
	Run(store)

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// Entities get fresh ids each run; seeding twice doubles them but must
	// never error out partway.
	if stats.Entities != 10 {
		t.Errorf("entities = %d, want 10 after two runs", stats.Entities)
	}
}
