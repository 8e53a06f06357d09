// Package events provides the in-process publish/subscribe bus the dashboard
// components communicate over, plus an optional RabbitMQ fan-out bridge.
package events

import "time"

// Topic identifies an event stream on the bus.
type Topic string

const (
	TopicConversationCreated Topic = "conversation.created"
	TopicConversationUpdated Topic = "conversation.updated"
	TopicVisitorsSnapshot    Topic = "visitors.snapshot"
	TopicAlertRaised         Topic = "alert.raised"
	TopicIntegrationSynced   Topic = "integration.synced"
	TopicIntegrationError    Topic = "integration.error"
)

var knownTopics = map[Topic]bool{
	TopicConversationCreated: true,
	TopicConversationUpdated: true,
	TopicVisitorsSnapshot:    true,
	TopicAlertRaised:         true,
	TopicIntegrationSynced:   true,
	TopicIntegrationError:    true,
}

// IsValidTopic reports whether t is one of the defined bus topics.
func IsValidTopic(t Topic) bool {
	return knownTopics[t]
}

// ConversationCreated is published when an operator promotes a session or a
// visitor opens a chat.
type ConversationCreated struct {
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Page           string    `json:"page,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationUpdated is published on status or last-message changes.
type ConversationUpdated struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// VisitorsSnapshot carries the size of a freshly swapped canonical snapshot.
type VisitorsSnapshot struct {
	Count    int       `json:"count"`
	HasSelf  bool      `json:"has_self"`
	SwappedA time.Time `json:"swapped_at"`
}

// AlertRaised is published when the notification trigger fires.
type AlertRaised struct {
	OpenConversations int       `json:"open_conversations"`
	Previous          int       `json:"previous"`
	RaisedAt          time.Time `json:"raised_at"`
}

// IntegrationSynced is published after a successful listing sync.
type IntegrationSynced struct {
	Integration string    `json:"integration"`
	Accounts    int       `json:"accounts"`
	Locations   int       `json:"locations"`
	FromCache   bool      `json:"from_cache"`
	SyncedAt    time.Time `json:"synced_at"`
}

// IntegrationError is published when a sync attempt ends in a non-success state.
type IntegrationError struct {
	Integration string `json:"integration"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}
