package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"constructionpro/internal/fieldsync/apiclient"
)

// Handler replays one operation against the server.
type Handler interface {
	Apply(ctx context.Context, op Operation) error
}

type HandlerFunc func(ctx context.Context, op Operation) error

func (f HandlerFunc) Apply(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// Registry dispatches operations by resource type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ResourceType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ResourceType]Handler)}
}

// NewDefaultRegistry routes every generic resource type through api.
func NewDefaultRegistry(api ResourceAPI) *Registry {
	r := NewRegistry()
	h := NewResourceHandler(api)
	for _, rt := range ResourceTypes {
		if rt != ResourceAnnotation {
			r.Register(rt, h)
		}
	}
	return r
}

func (r *Registry) Register(rt ResourceType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[rt] = h
}

func (r *Registry) Apply(ctx context.Context, op Operation) error {
	r.mu.RLock()
	h, ok := r.handlers[op.ResourceType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler for resource type %q", ErrInvalidOperation, op.ResourceType)
	}
	return h.Apply(ctx, op)
}

// ResourceAPI is the part of the API client the generic handler needs.
type ResourceAPI interface {
	CreateResource(ctx context.Context, resourceType string, payload json.RawMessage) (json.RawMessage, error)
	UpdateResource(ctx context.Context, resourceType, id string, payload json.RawMessage) (json.RawMessage, error)
	DeleteResource(ctx context.Context, resourceType, id string) error
	SubmitResource(ctx context.Context, resourceType, id string, payload json.RawMessage) error
}

// ResourceHandler maps operations onto the generic resource endpoints.
type ResourceHandler struct {
	api ResourceAPI
}

func NewResourceHandler(api ResourceAPI) *ResourceHandler {
	return &ResourceHandler{api: api}
}

func (h *ResourceHandler) Apply(ctx context.Context, op Operation) error {
	if err := requireFields(op); err != nil {
		return err
	}
	rt := string(op.ResourceType)

	var err error
	switch op.Kind {
	case OpCreate:
		_, err = h.api.CreateResource(ctx, rt, op.Payload)
	case OpUpdate:
		_, err = h.api.UpdateResource(ctx, rt, op.ResourceID, op.Payload)
	case OpDelete:
		err = h.api.DeleteResource(ctx, rt, op.ResourceID)
	case OpSubmit:
		err = h.api.SubmitResource(ctx, rt, op.ResourceID, op.Payload)
	}
	return err
}

// requireFields rejects operations missing the payload or id their kind needs.
func requireFields(op Operation) error {
	switch op.Kind {
	case OpCreate:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: %s %s has no payload", ErrInvalidOperation, op.Kind, op.ResourceType)
		}
	case OpUpdate:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: %s %s has no payload", ErrInvalidOperation, op.Kind, op.ResourceType)
		}
		if op.ResourceID == "" {
			return fmt.Errorf("%w: %s %s has no resource id", ErrInvalidOperation, op.Kind, op.ResourceType)
		}
	case OpDelete, OpSubmit:
		if op.ResourceID == "" {
			return fmt.Errorf("%w: %s %s has no resource id", ErrInvalidOperation, op.Kind, op.ResourceType)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// AnnotationAPI is the part of the API client the annotation handler needs.
type AnnotationAPI interface {
	CreateAnnotation(ctx context.Context, documentID string, in apiclient.AnnotationInput) (*apiclient.Annotation, error)
	UpdateAnnotation(ctx context.Context, id string, patch apiclient.AnnotationPatch) (*apiclient.Annotation, error)
	DeleteAnnotation(ctx context.Context, id string) error
}

// AnnotationCreate is the payload of a queued pin placement.
type AnnotationCreate struct {
	DocumentID string `json:"document_id"`
	apiclient.AnnotationInput
}

// AnnotationHandler replays pin operations. OnCreated, when set, is told
// which server pin a queued placement became.
type AnnotationHandler struct {
	api       AnnotationAPI
	OnCreated func(opID string, pin *apiclient.Annotation)
}

func NewAnnotationHandler(api AnnotationAPI) *AnnotationHandler {
	return &AnnotationHandler{api: api}
}

func (h *AnnotationHandler) Apply(ctx context.Context, op Operation) error {
	if op.Kind == OpSubmit {
		return fmt.Errorf("%w: annotations cannot be submitted", ErrInvalidOperation)
	}
	if err := requireFields(op); err != nil {
		return err
	}

	switch op.Kind {
	case OpCreate:
		var in AnnotationCreate
		if err := json.Unmarshal(op.Payload, &in); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}
		if in.DocumentID == "" {
			return fmt.Errorf("%w: annotation has no document_id", ErrInvalidOperation)
		}
		pin, err := h.api.CreateAnnotation(ctx, in.DocumentID, in.AnnotationInput)
		if err != nil {
			return err
		}
		if h.OnCreated != nil {
			h.OnCreated(op.ID, pin)
		}
		return nil
	case OpUpdate:
		var patch apiclient.AnnotationPatch
		if err := json.Unmarshal(op.Payload, &patch); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}
		_, err := h.api.UpdateAnnotation(ctx, op.ResourceID, patch)
		return err
	default:
		return h.api.DeleteAnnotation(ctx, op.ResourceID)
	}
}
