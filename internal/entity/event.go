// Structure of the events pushed to live dashboard connections.

package entity

import "time"

// EventKind tags the variant carried by a BroadcastEvent.
type EventKind string

const (
	LiveUpdate      EventKind = "LIVE_UPDATE"
	HeartbeatUpdate EventKind = "HEARTBEAT_UPDATE"
	StageChange     EventKind = "STAGE_CHANGE"
)

// BroadcastEvent is created at delivery time and never mutated afterwards.
// Exactly one of Fields, Heartbeat and Stage is set, matching Kind.
type BroadcastEvent struct {
	Kind      EventKind
	EntityID  string
	Fields    map[string]any
	Heartbeat *Heartbeat
	Stage     *StageTransition
	Timestamp time.Time
	Sequence  uint64
}

// Heartbeat reports the last time an entity was seen alive.
type Heartbeat struct {
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// StageTransition announces a lifecycle change of an entity. Rare and system-wide.
type StageTransition struct {
	EntityID   string `json:"entityId" valid:"required,entityid"`
	FromState  string `json:"fromState" valid:"required,nospace"`
	ToState    string `json:"toState" valid:"required,nospace"`
	ChangeType string `json:"changeType" valid:"required,nospace"`
	Reason     string `json:"reason" valid:"optional"`
}

// BroadcastStats is the observability view of the broadcast layer.
// LastBroadcastAgo is only filled by the ops API.
type BroadcastStats struct {
	Connected        int       `json:"connected"`
	Authenticated    int       `json:"authenticated"`
	Subscriptions    int       `json:"subscriptions"`
	LastBroadcastAt  time.Time `json:"lastBroadcastAt,omitempty"`
	LastBroadcastAgo string    `json:"lastBroadcastAgo,omitempty"`
	Sequence         uint64    `json:"sequence"`
	TrackedEntities  int       `json:"trackedEntities"`
}
