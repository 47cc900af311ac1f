// Package syncqueue is the field device's durable queue of mutations made
// while offline. Operations are persisted in a local SQLite file before they
// become visible, and are replayed oldest first when connectivity returns.
package syncqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"constructionpro/internal/common"
)

// MaxRetries is the number of failed attempts after which an operation is
// exhausted and no longer replayed automatically.
const MaxRetries = 3

// ErrInvalidOperation marks an operation that cannot be dispatched as stored.
var ErrInvalidOperation = errors.New("invalid operation")

type Kind string

const (
	OpCreate Kind = "create"
	OpUpdate Kind = "update"
	OpDelete Kind = "delete"
	OpSubmit Kind = "submit"
)

func (k Kind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpSubmit:
		return true
	}
	return false
}

type ResourceType string

const (
	ResourceProject    ResourceType = "project"
	ResourceDailyLog   ResourceType = "dailyLog"
	ResourceTimeEntry  ResourceType = "timeEntry"
	ResourceEquipment  ResourceType = "equipment"
	ResourceIncident   ResourceType = "incident"
	ResourceDocument   ResourceType = "document"
	ResourceComment    ResourceType = "comment"
	ResourcePunchList  ResourceType = "punchList"
	ResourceAnnotation ResourceType = "annotation"
)

var ResourceTypes = []ResourceType{
	ResourceProject, ResourceDailyLog, ResourceTimeEntry, ResourceEquipment,
	ResourceIncident, ResourceDocument, ResourceComment, ResourcePunchList,
	ResourceAnnotation,
}

func (r ResourceType) Valid() bool {
	for _, known := range ResourceTypes {
		if r == known {
			return true
		}
	}
	return false
}

// Operation is one pending mutation.
type Operation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Kind          Kind            `json:"operation"`
	ResourceType  ResourceType    `json:"resource_type"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	RetryCount    int             `json:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the operation hit the retry limit.
func (o Operation) Exhausted() bool {
	return o.RetryCount >= MaxRetries
}

// NewOperation builds an operation with a fresh id. payload is marshalled to
// JSON unless it is nil.
func NewOperation(kind Kind, resourceType ResourceType, resourceID string, payload any) (Operation, error) {
	op := Operation{
		ID:           uuid.NewString(),
		Kind:         kind,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encode payload: %w", err)
		}
		op.Payload = raw
	}
	return op, op.validate()
}

// validate checks what can be stored. Missing payloads and ids are caught at
// dispatch time so they count against the retry limit.
func (o Operation) validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, o.Kind)
	}
	if !o.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", common.ErrValidation, o.ResourceType)
	}
	if len(o.Payload) > 0 && !json.Valid(o.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", common.ErrValidation)
	}
	return nil
}
