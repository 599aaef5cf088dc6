// Package client holds outbound integrations: the NATS notification publisher.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/dockflow-io/be-doc-workflows/internal/engine"
)

// NotificationPublisher publishes workflow events to NATS for consumption by
// the notifications service.
//
// Subject convention: notifications.workflow.<event_type>
// Event types: workflow_started, task_created, task_approved, task_rejected,
//              workflow_completed, workflow_rejected
//
// All publish operations are non-fatal — errors are logged but never propagated
// to the caller, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string `json:"event_type"`
	InstanceID   string `json:"instance_id"`
	ActorID      string `json:"actor_id"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Category     string `json:"category,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event,
// which keeps the service usable without a broker.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Notify publishes one workflow event. Subject: notifications.workflow.<event_type>
func (p *NotificationPublisher) Notify(ctx context.Context, event engine.Event) {
	if p.conn == nil {
		return
	}

	payload := &NotificationEvent{
		EventType:    event.EventType,
		InstanceID:   event.InstanceID.String(),
		ActorID:      event.ActorID.String(),
		ResourceType: "workflow_instance",
		ResourceID:   event.InstanceID.String(),
		Category:     "document_approval",
	}
	if event.TaskID != nil {
		payload.ResourceType = "workflow_task"
		payload.ResourceID = event.TaskID.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.workflow.%s", event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("instance_id", payload.InstanceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("instance_id", payload.InstanceID).
		Msg("notification: event published")
}
