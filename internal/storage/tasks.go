package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const taskColumns = "id, entity_id, person_id, type, title, status, priority, due_at, data, created_at, updated_at"

// TaskPatch carries partial updates for a task. Status changes go through
// UpdateTaskStatus so the lifecycle guard applies.
type TaskPatch struct {
	Title    *string
	Priority *int
	Due      *time.Time
	Payload  *Payload
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	EntityID string
	PersonID string
	Status   TaskStatus
	Limit    int
}

// CreateTask validates and persists a new task, assigning an id when absent.
func (s *Store) CreateTask(t Task) (string, error) {
	if t.EntityID == "" {
		return "", validationErr("entity_id", "must not be empty")
	}
	if t.PersonID == "" {
		return "", validationErr("person_id", "must not be empty")
	}
	if !t.Type.Valid() {
		return "", validationErr("type", fmt.Sprintf("unknown task type %q", t.Type))
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if !t.Status.Valid() {
		return "", validationErr("status", fmt.Sprintf("unknown status %q", t.Status))
	}
	if t.Priority < 0 || t.Priority > 2 {
		return "", validationErr("priority", "must be 0 (normal), 1 (high) or 2 (urgent)")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	data, err := t.Payload.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	var due any
	if !t.Due.IsZero() {
		due = t.Due.UTC().Format(time.RFC3339Nano)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, entity_id, person_id, type, title, status, priority, due_at, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EntityID, t.PersonID, string(t.Type), t.Title, string(t.Status), t.Priority, due, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}
	return t.ID, nil
}

// GetTask returns a single task or ErrNotFound.
func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

// UpdateTask applies the supplied fields and bumps updated_at. Returns
// ErrNotFound when the id does not exist.
func (s *Store) UpdateTask(id string, patch TaskPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Priority != nil {
		if *patch.Priority < 0 || *patch.Priority > 2 {
			return validationErr("priority", "must be 0 (normal), 1 (high) or 2 (urgent)")
		}
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.Due != nil {
		sets = append(sets, "due_at = ?")
		if patch.Due.IsZero() {
			args = append(args, nil)
		} else {
			args = append(args, patch.Due.UTC().Format(time.RFC3339Nano))
		}
	}
	if patch.Payload != nil {
		data, err := patch.Payload.Encode()
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		sets = append(sets, "data = ?")
		args = append(args, string(data))
	}

	args = append(args, id)
	res, err := s.db.Exec("UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskStatus moves a task through its lifecycle. Transitions out of
// completed or cancelled are rejected.
func (s *Store) UpdateTaskStatus(id string, next TaskStatus) error {
	if !next.Valid() {
		return validationErr("status", fmt.Sprintf("unknown status %q", next))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow("SELECT status FROM tasks WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if !TaskStatus(current).CanTransition(next) {
		return validationErr("status", fmt.Sprintf("cannot transition from %s to %s", current, next))
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec("UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", string(next), now, id); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return tx.Commit()
}

// DeleteTask removes a task. Deleting an absent id is a no-op.
func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// DeleteTasksForEntity removes every task owned by an entity and returns the
// number removed. Entity deletion does not cascade; this is the explicit
// primitive.
func (s *Store) DeleteTasksForEntity(entityID string) (int, error) {
	res, err := s.db.Exec("DELETE FROM tasks WHERE entity_id = ?", entityID)
	if err != nil {
		return 0, fmt.Errorf("deleting tasks for entity: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListTasks returns tasks matching the filter ordered by priority desc,
// due asc (nulls last), created desc.
func (s *Store) ListTasks(filter TaskFilter) ([]Task, error) {
	var conds []string
	var args []any

	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.PersonID != "" {
		conds = append(conds, "person_id = ?")
		args = append(args, filter.PersonID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, due_at IS NULL, due_at ASC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TasksOfPerson joins tasks by assignee, optionally filtered by status.
func (s *Store) TasksOfPerson(personID string, status TaskStatus) ([]Task, error) {
	return s.ListTasks(TaskFilter{PersonID: personID, Status: status})
}

// TasksOfEntity joins tasks by owning entity.
func (s *Store) TasksOfEntity(entityID string) ([]Task, error) {
	return s.ListTasks(TaskFilter{EntityID: entityID})
}

// OverdueTasks returns pending tasks whose due time has passed.
func (s *Store) OverdueTasks() ([]Task, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending' AND due_at IS NOT NULL AND due_at < ?
		ORDER BY due_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("querying overdue tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DueSoon returns pending tasks due within the next withinHours hours.
func (s *Store) DueSoon(withinHours int) ([]Task, error) {
	now := time.Now().UTC()
	until := now.Add(time.Duration(withinHours) * time.Hour)
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending' AND due_at IS NOT NULL AND due_at >= ? AND due_at <= ?
		ORDER BY due_at ASC`,
		now.Format(time.RFC3339Nano), until.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("querying due-soon tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// OrderTaskSpec names one task to derive from an entity in CreateOrderTasks.
type OrderTaskSpec struct {
	PersonID string
	Type     TaskType
	Title    string
	Priority int
	Due      time.Time
}

// CreateOrderTasks derives a batch of follow-up tasks for one entity. The
// batch is not atomic: each created task commits independently and failures
// are reported per item in the result.
func (s *Store) CreateOrderTasks(entityID string, specs []OrderTaskSpec) (BulkResult, error) {
	res := BulkResult{Failed: make(map[string]string)}
	if entityID == "" {
		return res, validationErr("entity_id", "must not be empty")
	}
	for i, spec := range specs {
		title := spec.Title
		if title == "" {
			title = string(spec.Type)
		}
		id, err := s.CreateTask(Task{
			EntityID: entityID,
			PersonID: spec.PersonID,
			Type:     spec.Type,
			Title:    title,
			Priority: spec.Priority,
			Due:      spec.Due,
		})
		if err != nil {
			res.Failed[fmt.Sprintf("%d:%s", i, spec.Type)] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var typ, status, data, createdAt, updatedAt string
	var due sql.NullString
	if err := row.Scan(&t.ID, &t.EntityID, &t.PersonID, &typ, &t.Title, &status, &t.Priority, &due, &data, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.Type = TaskType(typ)
	t.Status = TaskStatus(status)
	t.Payload = ParsePayload([]byte(data))

	var err error
	if due.Valid {
		if t.Due, err = time.Parse(time.RFC3339Nano, due.String); err != nil {
			return Task{}, fmt.Errorf("parsing due_at: %w", err)
		}
	}
	if t.Created, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.Updated, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
