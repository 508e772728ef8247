package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddPersonLink adds a role-tagged edge between a person and an entity.
// Re-adding an existing (entity, person, role) triple is ignored, keeping
// the original row and its created_at.
func (s *Store) AddPersonLink(l PersonLink) error {
	if l.EntityID == "" {
		return validationErr("entity_id", "must not be empty")
	}
	if l.PersonID == "" {
		return validationErr("person_id", "must not be empty")
	}
	if !l.Role.Valid() {
		return validationErr("role", fmt.Sprintf("unknown role %q", l.Role))
	}

	_, err := s.db.Exec(`
		INSERT INTO person_links (entity_id, person_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id, person_id, role) DO NOTHING`,
		l.EntityID, l.PersonID, string(l.Role), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting person link: %w", err)
	}
	return nil
}

// RemovePersonLink deletes a link. Removing an absent link is a no-op.
func (s *Store) RemovePersonLink(entityID, personID string, role Role) error {
	_, err := s.db.Exec(
		"DELETE FROM person_links WHERE entity_id = ? AND person_id = ? AND role = ?",
		entityID, personID, string(role),
	)
	if err != nil {
		return fmt.Errorf("deleting person link: %w", err)
	}
	return nil
}

// PersonsOf returns all people linked to an entity, in link insertion order.
func (s *Store) PersonsOf(entityID string) ([]PersonLink, error) {
	rows, err := s.db.Query(`
		SELECT entity_id, person_id, role, created_at
		FROM person_links WHERE entity_id = ? ORDER BY rowid ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying persons of entity: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// EntitiesOf returns the entities a person is linked to, optionally
// restricted to one role, in link insertion order.
func (s *Store) EntitiesOf(personID string, role Role) ([]Entity, error) {
	query := `
		SELECT ` + prefixColumns("e", entityColumns) + `
		FROM entities e
		JOIN person_links pl ON pl.entity_id = e.id
		WHERE pl.person_id = ?`
	args := []any{personID}
	if role != "" {
		query += " AND pl.role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY pl.rowid ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities of person: %w", err)
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

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// BulkResult reports which items of a bulk operation succeeded. Bulk
// operations are not atomic; a failure partway through leaves earlier items
// committed.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"` // item -> reason
}

// AddPeopleToEntity links several people to one entity under the given role.
// Items that fail validation are reported in the result, not raised.
func (s *Store) AddPeopleToEntity(entityID string, personIDs []string, role Role) (BulkResult, error) {
	res := BulkResult{Failed: make(map[string]string)}
	if entityID == "" {
		return res, validationErr("entity_id", "must not be empty")
	}
	for _, pid := range personIDs {
		err := s.AddPersonLink(PersonLink{EntityID: entityID, PersonID: pid, Role: role})
		if err != nil {
			res.Failed[pid] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, pid)
	}
	return res, nil
}

func scanLinks(rows *sql.Rows) ([]PersonLink, error) {
	var links []PersonLink
	for rows.Next() {
		var l PersonLink
		var role, createdAt string
		if err := rows.Scan(&l.EntityID, &l.PersonID, &role, &createdAt); err != nil {
			return nil, err
		}
		l.Role = Role(role)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		l.Created = t
		links = append(links, l)
	}
	return links, rows.Err()
}
