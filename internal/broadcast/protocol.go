// Wire format of the live updates channel.

package broadcast

import (
	"Lantern/internal/entity"
	"Lantern/internal/errors"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the "type" discriminator of every frame.
type MessageType string

// Inbound
const (
	MsgSubscribe   MessageType = "SUBSCRIBE"
	MsgUnsubscribe MessageType = "UNSUBSCRIBE"
	MsgPing        MessageType = "PING"
)

// Outbound control
const (
	MsgConnected      MessageType = "CONNECTED"
	MsgAuthRequired   MessageType = "AUTH_REQUIRED"
	MsgSubscribed     MessageType = "SUBSCRIBED"
	MsgUnsubscribed   MessageType = "UNSUBSCRIBED"
	MsgPong           MessageType = "PONG"
	MsgError          MessageType = "ERROR"
	MsgSessionExpired MessageType = "SESSION_EXPIRED"
)

// Frame sent by dashboard clients.
type inboundMessage struct {
	Type      MessageType `json:"type" valid:"required,in(SUBSCRIBE|UNSUBSCRIBE|PING)"`
	EntityIDs []string    `json:"entityIds" valid:"-"`
}

type connectedMessage struct {
	Type          MessageType `json:"type"`
	ConnectionID  string      `json:"connectionId"`
	Authenticated bool        `json:"authenticated"`
	UserID        string      `json:"userId,omitempty"`
	Timestamp     int64       `json:"timestamp"`
}

type subscriptionMessage struct {
	Type      MessageType `json:"type"`
	EntityIDs []string    `json:"entityIds"`
}

// Shared by AUTH_REQUIRED, ERROR, PONG and SESSION_EXPIRED. Only ERROR carries details.
type noticeMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message,omitempty"`
	Details   any         `json:"details,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type heartbeatMessage struct {
	Type       entity.EventKind `json:"type"`
	EntityID   string           `json:"entityId"`
	LastSeenAt int64            `json:"lastSeenAt"`
	Timestamp  int64            `json:"timestamp"`
	Sequence   uint64           `json:"sequence"`
}

type stageChangeMessage struct {
	Type entity.EventKind `json:"type"`
	entity.StageTransition
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// Timestamps on the wire are unix milliseconds.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func notice(t MessageType, msg string, now time.Time) noticeMessage {
	return noticeMessage{Type: t, Message: msg, Timestamp: millis(now)}
}

// errorNotice is an ERROR frame carrying the field level issues of resp.
func errorNotice(msg string, resp errors.ErrorResponse, now time.Time) noticeMessage {
	n := notice(MsgError, msg, now)
	n.Details = resp.Details
	return n
}

// encodeEvent renders a data event. LIVE_UPDATE fields are flattened next to the envelope,
// envelope keys win over fields of the same name.
func encodeEvent(e entity.BroadcastEvent) ([]byte, error) {
	switch e.Kind {
	case entity.LiveUpdate:
		body := make(map[string]any, len(e.Fields)+4)
		for k, v := range e.Fields {
			body[k] = v
		}
		body["type"] = e.Kind
		body["entityId"] = e.EntityID
		body["timestamp"] = millis(e.Timestamp)
		body["sequence"] = e.Sequence
		return json.Marshal(body)

	case entity.HeartbeatUpdate:
		var lastSeen time.Time
		if e.Heartbeat != nil {
			lastSeen = e.Heartbeat.LastSeenAt
		}
		return json.Marshal(heartbeatMessage{
			Type:       e.Kind,
			EntityID:   e.EntityID,
			LastSeenAt: millis(lastSeen),
			Timestamp:  millis(e.Timestamp),
			Sequence:   e.Sequence,
		})

	case entity.StageChange:
		if e.Stage == nil {
			return nil, fmt.Errorf("stage change for %s has no transition", e.EntityID)
		}
		return json.Marshal(stageChangeMessage{
			Type:            e.Kind,
			StageTransition: *e.Stage,
			Timestamp:       millis(e.Timestamp),
			Sequence:        e.Sequence,
		})
	}
	return nil, fmt.Errorf("unknown event kind %q", e.Kind)
}
