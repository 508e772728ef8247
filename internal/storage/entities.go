package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const entityColumns = "id, type, title, value, quantity, location, status, data, created_at, updated_at"

// EntityPatch carries partial updates for an entity. Nil fields are left
// untouched.
type EntityPatch struct {
	Type     *EntityType
	Title    *string
	Value    *float64
	Quantity *int
	Location *string
	Status   *EntityStatus
	Payload  *Payload
}

// EntityFilter narrows entity listings. Zero values mean "any". Structural
// types (cart, inventory, ...) are excluded unless IncludeStructural is set
// or the filter names one explicitly.
type EntityFilter struct {
	Status            EntityStatus
	Type              EntityType
	IncludeStructural bool
	Limit             int
}

// CreateEntity validates and persists a new entity, assigning an id when
// absent. Returns the id.
func (s *Store) CreateEntity(e Entity) (string, error) {
	if strings.TrimSpace(e.Title) == "" {
		return "", validationErr("title", "must not be empty")
	}
	if !e.Type.Valid() {
		return "", validationErr("type", fmt.Sprintf("unknown entity type %q", e.Type))
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
	if !e.Status.Valid() {
		return "", validationErr("status", fmt.Sprintf("unknown status %q", e.Status))
	}
	if e.Quantity < 0 {
		return "", validationErr("quantity", "must not be negative")
	}
	if e.Quantity == 0 {
		e.Quantity = 1
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	data, err := e.Payload.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO entities (id, type, title, value, quantity, location, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Title, e.Value, e.Quantity, e.Location, string(e.Status), string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting entity: %w", err)
	}
	return e.ID, nil
}

// GetEntity returns a single entity or ErrNotFound.
func (s *Store) GetEntity(id string) (Entity, error) {
	row := s.db.QueryRow("SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	return e, err
}

// GetEntities batch-fetches entities by id in a single query. Missing ids are
// silently skipped; callers that need referential strictness must check the
// result length themselves.
func (s *Store) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT " + entityColumns + " FROM entities WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities by ids: %w", err)
	}
	defer rows.Close()

	var results []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// UpdateEntity applies the supplied fields and bumps updated_at. Returns
// ErrNotFound when the id does not exist.
func (s *Store) UpdateEntity(id string, patch EntityPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if patch.Type != nil {
		if !patch.Type.Valid() {
			return validationErr("type", fmt.Sprintf("unknown entity type %q", *patch.Type))
		}
		sets = append(sets, "type = ?")
		args = append(args, string(*patch.Type))
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return validationErr("title", "must not be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Value != nil {
		sets = append(sets, "value = ?")
		args = append(args, *patch.Value)
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return validationErr("quantity", "must not be negative")
		}
		sets = append(sets, "quantity = ?")
		args = append(args, *patch.Quantity)
	}
	if patch.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *patch.Location)
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return validationErr("status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
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
	res, err := s.db.Exec("UPDATE entities SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
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

// DeleteEntity removes an entity. Deleting an absent id is a no-op.
func (s *Store) DeleteEntity(id string) error {
	_, err := s.db.Exec("DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return nil
}

// ListEntities returns entities matching the filter in insertion order.
func (s *Store) ListEntities(filter EntityFilter) ([]Entity, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	} else if !filter.IncludeStructural {
		placeholders := make([]string, 0, len(structuralTypes))
		for t := range structuralTypes {
			placeholders = append(placeholders, "?")
			args = append(args, string(t))
		}
		conds = append(conds, "type NOT IN ("+strings.Join(placeholders, ",")+")")
	}

	query := "SELECT " + entityColumns + " FROM entities"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var results []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var typ, status, data, createdAt, updatedAt string
	if err := row.Scan(&e.ID, &typ, &e.Title, &e.Value, &e.Quantity, &e.Location, &status, &data, &createdAt, &updatedAt); err != nil {
		return Entity{}, err
	}
	e.Type = EntityType(typ)
	e.Status = EntityStatus(status)
	e.Payload = ParsePayload([]byte(data))

	var err error
	if e.Created, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entity{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.Updated, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entity{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}
