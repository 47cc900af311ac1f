package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"constructionpro/internal/common"
)

// ErrUnknownResource is returned for resource types with no endpoint.
var ErrUnknownResource = fmt.Errorf("%w: unknown resource type", common.ErrValidation)

var resourcePaths = map[string]string{
	"project":   "/api/projects",
	"dailyLog":  "/api/daily-logs",
	"timeEntry": "/api/time-entries",
	"equipment": "/api/equipment",
	"incident":  "/api/incidents",
	"document":  "/api/documents",
	"comment":   "/api/comments",
	"punchList": "/api/punch-list",
}

// ResourcePath returns the collection path for a resource type.
func ResourcePath(resourceType string) (string, error) {
	p, ok := resourcePaths[resourceType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, resourceType)
	}
	return p, nil
}

func itemPath(resourceType, id string) (string, error) {
	base, err := ResourcePath(resourceType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: resource id is required", common.ErrValidation)
	}
	return base + "/" + url.PathEscape(id), nil
}

// CreateResource posts payload to the collection and returns the raw answer.
func (c *Client) CreateResource(ctx context.Context, resourceType string, payload json.RawMessage) (json.RawMessage, error) {
	path, err := ResourcePath(resourceType)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.create(ctx, resourceType+".create", path, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateResource(ctx context.Context, resourceType, id string, payload json.RawMessage) (json.RawMessage, error) {
	path, err := itemPath(resourceType, id)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.do(ctx, resourceType+".update", http.MethodPatch, path, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteResource(ctx context.Context, resourceType, id string) error {
	path, err := itemPath(resourceType, id)
	if err != nil {
		return err
	}
	return c.do(ctx, resourceType+".delete", http.MethodDelete, path, nil, nil)
}

// SubmitResource moves a draft into its submitted state. payload may be nil.
func (c *Client) SubmitResource(ctx context.Context, resourceType, id string, payload json.RawMessage) error {
	path, err := itemPath(resourceType, id)
	if err != nil {
		return err
	}
	var in any
	if len(payload) > 0 {
		in = payload
	}
	return c.do(ctx, resourceType+".submit", http.MethodPost, path+"/submit", in, nil)
}
