package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or missing required input. It is never
// retried; callers surface it immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// EntityType classifies a commerce entity. The set is closed; unknown values
// are rejected at the store boundary.
type EntityType string

const (
	TypeProduct      EntityType = "product"
	TypeService      EntityType = "service"
	TypeBooking      EntityType = "booking"
	TypeTransport    EntityType = "transport"
	TypeFood         EntityType = "food"
	TypeEvent        EntityType = "event"
	TypeRental       EntityType = "rental"
	TypeDigital      EntityType = "digital"
	TypeSubscription EntityType = "subscription"
	TypeEducation    EntityType = "education"
	TypeRealEstate   EntityType = "realestate"
	TypeHealthcare   EntityType = "healthcare"

	// Structural types back internal bookkeeping rows. They are excluded from
	// default commerce listings.
	TypeVariant   EntityType = "variant"
	TypeInventory EntityType = "inventory"
	TypeStore     EntityType = "store"
	TypeCart      EntityType = "cart"
	TypeSearch    EntityType = "search"
)

var entityTypes = map[EntityType]bool{
	TypeProduct: true, TypeService: true, TypeBooking: true, TypeTransport: true,
	TypeFood: true, TypeEvent: true, TypeRental: true, TypeDigital: true,
	TypeSubscription: true, TypeEducation: true, TypeRealEstate: true, TypeHealthcare: true,
	TypeVariant: true, TypeInventory: true, TypeStore: true, TypeCart: true, TypeSearch: true,
}

var structuralTypes = map[EntityType]bool{
	TypeVariant: true, TypeInventory: true, TypeStore: true, TypeCart: true, TypeSearch: true,
}

func (t EntityType) Valid() bool      { return entityTypes[t] }
func (t EntityType) Structural() bool { return structuralTypes[t] }

// EntityStatus is the lifecycle state of an entity.
type EntityStatus string

const (
	StatusActive    EntityStatus = "active"
	StatusPending   EntityStatus = "pending"
	StatusCompleted EntityStatus = "completed"
	StatusCancelled EntityStatus = "cancelled"
)

func (s EntityStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Role tags a person's relationship to an entity.
type Role string

const (
	RoleSeller     Role = "seller"
	RoleBuyer      Role = "buyer"
	RoleStaff      Role = "staff"
	RoleDriver     Role = "driver"
	RoleHost       Role = "host"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
	RoleDoctor     Role = "doctor"
	RolePatient    Role = "patient"
	RoleLandlord   Role = "landlord"
	RoleTenant     Role = "tenant"
	RoleAgent      Role = "agent"
	RoleManager    Role = "manager"
	RoleSupport    Role = "support"
)

var roles = map[Role]bool{
	RoleSeller: true, RoleBuyer: true, RoleStaff: true, RoleDriver: true,
	RoleHost: true, RoleInstructor: true, RoleStudent: true, RoleDoctor: true,
	RolePatient: true, RoleLandlord: true, RoleTenant: true, RoleAgent: true,
	RoleManager: true, RoleSupport: true,
}

func (r Role) Valid() bool { return roles[r] }

// TaskType classifies a derived work item.
type TaskType string

const (
	TaskPay      TaskType = "pay"
	TaskConfirm  TaskType = "confirm"
	TaskPrepare  TaskType = "prepare"
	TaskPickup   TaskType = "pickup"
	TaskDeliver  TaskType = "deliver"
	TaskReceive  TaskType = "receive"
	TaskRate     TaskType = "rate"
	TaskCheckin  TaskType = "checkin"
	TaskServe    TaskType = "serve"
	TaskComplete TaskType = "complete"
)

var taskTypes = map[TaskType]bool{
	TaskPay: true, TaskConfirm: true, TaskPrepare: true, TaskPickup: true,
	TaskDeliver: true, TaskReceive: true, TaskRate: true, TaskCheckin: true,
	TaskServe: true, TaskComplete: true,
}

func (t TaskType) Valid() bool { return taskTypes[t] }

// TaskStatus is the lifecycle state of a task. Completed and cancelled are
// terminal; no transition leaves them.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProgress   TaskStatus = "progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// CanTransition reports whether a task may move from s to next.
// pending -> progress -> completed, with cancellation allowed from any
// non-terminal state.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case TaskCancelled:
		return true
	case TaskProgress:
		return s == TaskPending
	case TaskCompleted:
		return s == TaskPending || s == TaskProgress
	case TaskPending:
		return false
	}
	return false
}

// Payload is the structured portion of an entity's or task's data column.
// Unknown keys survive round-trips in Extra. Parse failures yield the zero
// Payload rather than an error; malformed blobs never reach business logic.
type Payload struct {
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ParsePayload decodes a data blob. Empty, nil, or malformed input yields the
// zero Payload.
func ParsePayload(raw []byte) Payload {
	var p Payload
	if len(raw) == 0 {
		return p
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Payload{}
	}
	if d, ok := m["description"].(string); ok {
		p.Description = d
		delete(m, "description")
	}
	if ts, ok := m["tags"].([]any); ok {
		for _, t := range ts {
			if s, ok := t.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
		delete(m, "tags")
	}
	if len(m) > 0 {
		p.Extra = m
	}
	return p
}

// Encode serializes the payload back into a data blob.
func (p Payload) Encode() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Tags) > 0 {
		m["tags"] = p.Tags
	}
	return json.Marshal(m)
}

// IndexText returns the free text an entity payload contributes to the
// semantic index.
func (p Payload) IndexText() string {
	text := p.Description
	for _, t := range p.Tags {
		if text != "" {
			text += " "
		}
		text += t
	}
	return text
}

// Entity is a persisted commerce or memory record.
type Entity struct {
	ID       string       `json:"id"`
	Type     EntityType   `json:"type"`
	Title    string       `json:"title"`
	Payload  Payload      `json:"payload"`
	Value    float64      `json:"value"`
	Quantity int          `json:"quantity"`
	Location string       `json:"location,omitempty"`
	Status   EntityStatus `json:"status"`
	Created  time.Time    `json:"created"`
	Updated  time.Time    `json:"updated"`
}

// PersonLink is a role-tagged edge between an opaque person id and an entity.
// At most one row exists per (entity, person, role) triple.
type PersonLink struct {
	EntityID string    `json:"entity_id"`
	PersonID string    `json:"person_id"`
	Role     Role      `json:"role"`
	Created  time.Time `json:"created"`
}

// Task is a derived work item owned by one entity and assigned to one person.
type Task struct {
	ID       string     `json:"id"`
	EntityID string     `json:"entity_id"`
	PersonID string     `json:"person_id,omitempty"`
	Type     TaskType   `json:"type"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	Priority int        `json:"priority"` // 0=normal, 1=high, 2=urgent
	Due      time.Time  `json:"due,omitzero"`
	Payload  Payload    `json:"payload"`
	Created  time.Time  `json:"created"`
	Updated  time.Time  `json:"updated"`
}

// Job is a queued background unit of work, used to drive async reindexing.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
