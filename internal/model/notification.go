package model

import "time"

// Platform identifies a chat-webhook notification target.
type Platform string

const (
	PlatformDingTalk Platform = "dingtalk"
	PlatformFeishu   Platform = "feishu"
	PlatformWeCom    Platform = "wechat"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformDingTalk, PlatformFeishu, PlatformWeCom}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// EventType is the kind of notification event.
type EventType string

const (
	EventNewMail       EventType = "new_email"
	EventImportantMail EventType = "important_email"
	EventSummary       EventType = "ai_summary"
	EventDigest        EventType = "daily_digest"
	EventCustom        EventType = "custom"
)

// EventTypes lists every event type in display order.
var EventTypes = []EventType{
	EventNewMail, EventImportantMail, EventSummary, EventDigest, EventCustom,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TimeRange is a daily window of zero-padded 24-hour "HH:mm" values.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NotificationFilters narrows which events a config receives. Every
// unset filter lets events through.
type NotificationFilters struct {
	Keywords    []string   `json:"keywords,omitempty"`
	Senders     []string   `json:"senders,omitempty"`
	MinPriority Priority   `json:"min_priority,omitempty"`
	TimeRange   *TimeRange `json:"time_range,omitempty"`
}

// NotificationConfig is a user's subscription of a webhook target to a
// set of event types.
type NotificationConfig struct {
	ID       string              `json:"id"`
	UserID   string              `json:"user_id"`
	Platform Platform            `json:"platform"`
	Webhook  string              `json:"webhook"`
	Enabled  bool                `json:"enabled"`
	Types    []EventType         `json:"types"`
	Filters  NotificationFilters `json:"filters"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscribes reports whether the config includes event type t.
func (c NotificationConfig) Subscribes(t EventType) bool {
	for _, s := range c.Types {
		if s == t {
			return true
		}
	}
	return false
}

// EventMetadata carries the message context of an event. Empty strings
// mean "absent".
type EventMetadata struct {
	MessageID string   `json:"email_id,omitempty"`
	Sender    string   `json:"sender,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	Summary   string   `json:"ai_summary,omitempty"`
}

// NotificationEvent is an ephemeral notification. Only its delivery
// outcome is persisted.
type NotificationEvent struct {
	// ID correlates the delivery records of one event.
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  EventMetadata `json:"metadata"`
}

// DeliveryRecord is the append-only outcome of sending one event to one
// config.
type DeliveryRecord struct {
	ID       string        `json:"id"`
	EventID  string        `json:"event_id"`
	UserID   string        `json:"user_id"`
	ConfigID string        `json:"config_id"`
	Platform Platform      `json:"platform"`
	Type     EventType     `json:"type"`
	Title    string        `json:"title"`
	Content  string        `json:"content"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Metadata EventMetadata `json:"metadata"`
	SentAt   time.Time     `json:"sent_at"`
}

// PlatformDeliveryStats counts deliveries for one platform.
type PlatformDeliveryStats struct {
	Platform   Platform `json:"platform" db:"platform"`
	Total      int      `json:"total" db:"total"`
	Successful int      `json:"successful" db:"successful"`
}

// DeliveryStats summarizes a user's delivery history.
type DeliveryStats struct {
	Total         int                     `json:"total"`
	Successful    int                     `json:"successful"`
	ActiveConfigs int                     `json:"active_configs"`
	FailureRate   float64                 `json:"failure_rate"`
	ByPlatform    []PlatformDeliveryStats `json:"by_platform"`
	Recent        []DeliveryRecord        `json:"recent"`
}

// DigestStats summarizes a user's mail over a period.
type DigestStats struct {
	Total     int      `json:"total"`
	Unread    int      `json:"unread"`
	High      int      `json:"high"`
	Summaries []string `json:"summaries"`
}
