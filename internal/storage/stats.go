package storage

import "fmt"

// Stats aggregates the current state of the store. It is computed fresh on
// every call so it always reflects the latest committed mutation.
type Stats struct {
	Entities      int                  `json:"entities"`
	ByStatus      map[EntityStatus]int `json:"entities_by_status"`
	ByType        map[EntityType]int   `json:"entities_by_type"`
	Tasks         int                  `json:"tasks"`
	TasksByStatus map[TaskStatus]int   `json:"tasks_by_status"`
	Links         int                  `json:"links"`
	LinksByRole   map[Role]int         `json:"links_by_role"`
}

// Stats counts entities, tasks, and person links grouped by their enum
// dimensions.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		ByStatus:      make(map[EntityStatus]int),
		ByType:        make(map[EntityType]int),
		TasksByStatus: make(map[TaskStatus]int),
		LinksByRole:   make(map[Role]int),
	}

	rows, err := s.db.Query("SELECT status, type, COUNT(*) FROM entities GROUP BY status, type")
	if err != nil {
		return Stats{}, fmt.Errorf("counting entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, typ string
		var n int
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return Stats{}, err
		}
		st.Entities += n
		st.ByStatus[EntityStatus(status)] += n
		st.ByType[EntityType(typ)] += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	taskRows, err := s.db.Query("SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return Stats{}, fmt.Errorf("counting tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var status string
		var n int
		if err := taskRows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		st.Tasks += n
		st.TasksByStatus[TaskStatus(status)] += n
	}
	if err := taskRows.Err(); err != nil {
		return Stats{}, err
	}

	linkRows, err := s.db.Query("SELECT role, COUNT(*) FROM person_links GROUP BY role")
	if err != nil {
		return Stats{}, fmt.Errorf("counting person links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var role string
		var n int
		if err := linkRows.Scan(&role, &n); err != nil {
			return Stats{}, err
		}
		st.Links += n
		st.LinksByRole[Role(role)] += n
	}
	return st, linkRows.Err()
}
