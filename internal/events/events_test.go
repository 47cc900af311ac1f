package events

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"canceled", context.Canceled, false, false},
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"timeout", nats.ErrTimeout, true, true},
		{"closed", nats.ErrConnectionClosed, true, true},
		{"bad subject", nats.ErrBadSubject, false, true},
		{"other", errors.New("boom"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyNATSError(tt.err)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.record, got.RecordFailure)
		})
	}
}

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "constructionpro.documents"}
	assert.Equal(t, "constructionpro.documents.annotation.resolved", p.Subject(AnnotationResolved))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	id := uuid.New()

	_ = r.Publish(context.Background(), Event{Type: DocumentCreated, DocumentID: id})
	_ = r.Publish(context.Background(), Event{Type: RevisionRecorded, DocumentID: id, Version: 2})

	assert.Equal(t, []Type{DocumentCreated, RevisionRecorded}, r.Types())
	assert.Equal(t, 2, r.Events()[1].Version)
	assert.NoError(t, Noop{}.Publish(context.Background(), Event{}))
}
