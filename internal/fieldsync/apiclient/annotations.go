package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type LinkedEntity struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Annotation is a pin as the API returns it.
type Annotation struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	PageNumber int           `json:"page_number"`
	X          float64       `json:"x"`
	Y          float64       `json:"y"`
	Kind       string        `json:"kind"`
	Label      *string       `json:"label"`
	Comment    *string       `json:"comment"`
	Linked     *LinkedEntity `json:"linked_entity"`
	CreatedBy  int           `json:"created_by"`
	ResolvedAt *time.Time    `json:"resolved_at"`
	ResolvedBy *int          `json:"resolved_by"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (a *Annotation) IsResolved() bool {
	return a.ResolvedAt != nil
}

// AnnotationInput is the body of a create request.
type AnnotationInput struct {
	PageNumber int           `json:"page_number"`
	X          float64       `json:"x"`
	Y          float64       `json:"y"`
	Kind       string        `json:"kind"`
	Label      *string       `json:"label,omitempty"`
	Comment    *string       `json:"comment,omitempty"`
	Linked     *LinkedEntity `json:"linked_entity,omitempty"`
}

// AnnotationPatch is a partial edit; nil fields are left alone. An empty
// Label or Comment clears it.
type AnnotationPatch struct {
	X            *float64      `json:"x,omitempty"`
	Y            *float64      `json:"y,omitempty"`
	Kind         *string       `json:"kind,omitempty"`
	Label        *string       `json:"label,omitempty"`
	Comment      *string       `json:"comment,omitempty"`
	Linked       *LinkedEntity `json:"linked_entity,omitempty"`
	UnlinkEntity bool          `json:"unlink_entity,omitempty"`
}

type annotationEnvelope struct {
	Annotation *Annotation `json:"annotation"`
}

func documentAnnotationsPath(documentID string) string {
	return "/api/documents/" + url.PathEscape(documentID) + "/annotations"
}

func annotationPath(id string) string {
	return "/api/annotations/" + url.PathEscape(id)
}

// ListAnnotations returns a document's pins; page 0 means every page.
func (c *Client) ListAnnotations(ctx context.Context, documentID string, page int) ([]Annotation, error) {
	path := documentAnnotationsPath(documentID)
	if page > 0 {
		path += fmt.Sprintf("?page=%d", page)
	}
	var out struct {
		Annotations []Annotation `json:"annotations"`
	}
	if err := c.do(ctx, "annotation.list", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Annotations, nil
}

func (c *Client) CreateAnnotation(ctx context.Context, documentID string, in AnnotationInput) (*Annotation, error) {
	var out annotationEnvelope
	if err := c.create(ctx, "annotation.create", documentAnnotationsPath(documentID), in, &out); err != nil {
		return nil, err
	}
	if out.Annotation == nil {
		return nil, fmt.Errorf("annotation.create: response has no annotation")
	}
	return out.Annotation, nil
}

func (c *Client) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) (*Annotation, error) {
	return c.annotationCall(ctx, "annotation.update", http.MethodPatch, annotationPath(id), patch)
}

func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	return c.do(ctx, "annotation.delete", http.MethodDelete, annotationPath(id), nil, nil)
}

func (c *Client) ResolveAnnotation(ctx context.Context, id string) (*Annotation, error) {
	return c.annotationCall(ctx, "annotation.resolve", http.MethodPost, annotationPath(id)+"/resolve", nil)
}

func (c *Client) UnresolveAnnotation(ctx context.Context, id string) (*Annotation, error) {
	return c.annotationCall(ctx, "annotation.unresolve", http.MethodPost, annotationPath(id)+"/unresolve", nil)
}

func (c *Client) annotationCall(ctx context.Context, op, method, path string, in any) (*Annotation, error) {
	var out annotationEnvelope
	if err := c.do(ctx, op, method, path, in, &out); err != nil {
		return nil, err
	}
	if out.Annotation == nil {
		return nil, fmt.Errorf("%s: response has no annotation", op)
	}
	return out.Annotation, nil
}
