package storage

import (
	"errors"
	"testing"
	"time"
)

func mustCreateTask(t *testing.T, s *Store, task Task) string {
	t.Helper()
	id, err := s.CreateTask(task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

func TestCreateAndGetTask(t *testing.T) {
	s := openTestStore(t)
	entityID := mustCreateEntity(t, s, Entity{Type: TypeProduct, Title: "Sesame oil"})

	due := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	id := mustCreateTask(t, s, Task{
		EntityID: entityID,
		PersonID: "person-1",
		Type:     TaskDeliver,
		Title:    "Deliver oil tins",
		Priority: 1,
		Due:      due,
	})

	got, err := s.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskPending {
		t.Errorf("Status = %q, want pending default", got.Status)
	}
	if !got.Due.Equal(due) {
		t.Errorf("Due = %v, want %v", got.Due, due)
	}
	if got.EntityID != entityID || got.PersonID != "person-1" {
		t.Errorf("ownership fields wrong: %+v", got)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	s := openTestStore(t)

	cases := []struct {
		name string
		task Task
	}{
		{"missing entity", Task{PersonID: "p", Type: TaskPay, Title: "x"}},
		{"missing person", Task{EntityID: "e", Type: TaskPay, Title: "x"}},
		{"unknown type", Task{EntityID: "e", PersonID: "p", Type: "remind", Title: "x"}},
		{"bad priority", Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "x", Priority: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateTask(tc.task)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestTaskStatusLifecycle(t *testing.T) {
	s := openTestStore(t)
	id := mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "x"})

	if err := s.UpdateTaskStatus(id, TaskProgress); err != nil {
		t.Fatalf("pending -> progress: %v", err)
	}
	if err := s.UpdateTaskStatus(id, TaskCompleted); err != nil {
		t.Fatalf("progress -> completed: %v", err)
	}

	// Terminal states reject further transitions.
	err := s.UpdateTaskStatus(id, TaskPending)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("completed -> pending: error = %v, want ValidationError", err)
	}

	got, _ := s.GetTask(id)
	if got.Status != TaskCompleted {
		t.Errorf("Status = %q, want completed after rejected transition", got.Status)
	}
}

func TestTaskStatusCancel(t *testing.T) {
	s := openTestStore(t)
	id := mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "x"})

	if err := s.UpdateTaskStatus(id, TaskCancelled); err != nil {
		t.Fatalf("pending -> cancelled: %v", err)
	}
	if err := s.UpdateTaskStatus(id, TaskProgress); err == nil {
		t.Fatal("cancelled -> progress should fail")
	}
}

func TestUpdateTaskStatus_NotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.UpdateTaskStatus("missing", TaskProgress)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListTasks_Ordering(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "low no due", Priority: 0})
	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "high later", Priority: 2, Due: now.Add(48 * time.Hour)})
	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "high sooner", Priority: 2, Due: now.Add(2 * time.Hour)})
	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "mid", Priority: 1})

	tasks, err := s.ListTasks(TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}

	want := []string{"high sooner", "high later", "mid", "low no due"}
	if len(tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(tasks), len(want))
	}
	for i, title := range want {
		if tasks[i].Title != title {
			t.Errorf("tasks[%d] = %q, want %q", i, tasks[i].Title, title)
		}
	}
}

func TestTasksOfPersonAndEntity(t *testing.T) {
	s := openTestStore(t)

	mustCreateTask(t, s, Task{EntityID: "e1", PersonID: "p1", Type: TaskPay, Title: "a"})
	mustCreateTask(t, s, Task{EntityID: "e1", PersonID: "p2", Type: TaskPay, Title: "b"})
	mustCreateTask(t, s, Task{EntityID: "e2", PersonID: "p1", Type: TaskPay, Title: "c"})

	byPerson, err := s.TasksOfPerson("p1", "")
	if err != nil {
		t.Fatalf("TasksOfPerson: %v", err)
	}
	if len(byPerson) != 2 {
		t.Errorf("got %d tasks for p1, want 2", len(byPerson))
	}

	byEntity, err := s.TasksOfEntity("e1")
	if err != nil {
		t.Fatalf("TasksOfEntity: %v", err)
	}
	if len(byEntity) != 2 {
		t.Errorf("got %d tasks for e1, want 2", len(byEntity))
	}
}

func TestOverdueAndDueSoon(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	overdueID := mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "overdue", Due: now.Add(-time.Hour)})
	soonID := mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "soon", Due: now.Add(6 * time.Hour)})
	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "far", Due: now.Add(100 * time.Hour)})
	mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "no due"})

	doneID := mustCreateTask(t, s, Task{EntityID: "e", PersonID: "p", Type: TaskPay, Title: "done late", Due: now.Add(-time.Hour)})
	if err := s.UpdateTaskStatus(doneID, TaskCompleted); err != nil {
		t.Fatalf("completing task: %v", err)
	}

	overdue, err := s.OverdueTasks()
	if err != nil {
		t.Fatalf("OverdueTasks: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != overdueID {
		t.Errorf("overdue = %v, want only %s", overdue, overdueID)
	}

	soon, err := s.DueSoon(24)
	if err != nil {
		t.Fatalf("DueSoon: %v", err)
	}
	if len(soon) != 1 || soon[0].ID != soonID {
		t.Errorf("due soon = %v, want only %s", soon, soonID)
	}
}

func TestDeleteTasksForEntity(t *testing.T) {
	s := openTestStore(t)

	mustCreateTask(t, s, Task{EntityID: "e1", PersonID: "p", Type: TaskPay, Title: "a"})
	mustCreateTask(t, s, Task{EntityID: "e1", PersonID: "p", Type: TaskPay, Title: "b"})
	keep := mustCreateTask(t, s, Task{EntityID: "e2", PersonID: "p", Type: TaskPay, Title: "c"})

	n, err := s.DeleteTasksForEntity("e1")
	if err != nil {
		t.Fatalf("DeleteTasksForEntity: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d tasks, want 2", n)
	}
	if _, err := s.GetTask(keep); err != nil {
		t.Errorf("unrelated task should survive: %v", err)
	}
}

func TestCreateOrderTasks_PartialSuccess(t *testing.T) {
	s := openTestStore(t)

	res, err := s.CreateOrderTasks("e1", []OrderTaskSpec{
		{PersonID: "p1", Type: TaskConfirm},
		{PersonID: "", Type: TaskDeliver},
		{PersonID: "p2", Type: TaskPay, Title: "Collect payment", Priority: 2},
	})
	if err != nil {
		t.Fatalf("CreateOrderTasks: %v", err)
	}

	if len(res.Succeeded) != 2 {
		t.Errorf("succeeded = %v, want 2 ids", res.Succeeded)
	}
	if len(res.Failed) != 1 {
		t.Errorf("failed = %v, want 1 entry", res.Failed)
	}

	// Titles default to the task type when absent.
	tasks, _ := s.TasksOfEntity("e1")
	var sawDefault bool
	for _, task := range tasks {
		if task.Title == string(TaskConfirm) {
			sawDefault = true
		}
	}
	if !sawDefault {
		t.Error("expected a task titled after its type")
	}
}
