package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailwatch/internal/model"
)

func newEvent(t model.EventType, title, content string, now time.Time) model.NotificationEvent {
	return model.NotificationEvent{
		ID:        uuid.New().String(),
		Type:      t,
		Title:     title,
		Content:   content,
		Timestamp: now,
	}
}

// NewMailEvent announces a newly ingested message. Priority defaults to
// medium when the message was not enriched.
func NewMailEvent(msg model.Message, now time.Time) model.NotificationEvent {
	ev := newEvent(model.EventNewMail, "📧 New mail",
		fmt.Sprintf("You received a new message from %s", msg.Sender), now)
	ev.Metadata = messageMetadata(msg)
	return ev
}

// ImportantMailEvent flags a message that enrichment rated high priority.
func ImportantMailEvent(msg model.Message, now time.Time) model.NotificationEvent {
	ev := newEvent(model.EventImportantMail, "⚠️ Important mail",
		"A message was rated high priority and may need your attention", now)
	ev.Metadata = messageMetadata(msg)
	ev.Metadata.Priority = model.PriorityHigh
	return ev
}

// SummaryEvent carries a free-text mail summary.
func SummaryEvent(summary string, now time.Time) model.NotificationEvent {
	return newEvent(model.EventSummary, "🤖 Mail summary", summary, now)
}

// DigestEvent reports a user's mail statistics over the last period.
func DigestEvent(stats model.DigestStats, period time.Duration, now time.Time) model.NotificationEvent {
	var b strings.Builder
	fmt.Fprintf(&b, "In the last %s you received %d messages, %d unread, %d high priority.",
		formatPeriod(period), stats.Total, stats.Unread, stats.High)
	for _, s := range stats.Summaries {
		b.WriteString("\n- " + s)
	}
	return newEvent(model.EventDigest, "📊 Daily mail digest", b.String(), now)
}

// CustomEvent builds a caller-defined event. An empty type means custom.
func CustomEvent(t model.EventType, title, content string, now time.Time) model.NotificationEvent {
	if t == "" {
		t = model.EventCustom
	}
	return newEvent(t, title, content, now)
}

// TestEvent is sent once to a webhook before its config is saved.
func TestEvent(now time.Time) model.NotificationEvent {
	return newEvent(model.EventCustom, "📧 Mail notification test",
		"Notification config added. Mail notifications will arrive here.", now)
}

func messageMetadata(msg model.Message) model.EventMetadata {
	md := model.EventMetadata{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Priority:  model.PriorityMedium,
	}
	if e := msg.Enrichment; e != nil {
		if e.Priority != "" {
			md.Priority = e.Priority
		}
		md.Summary = e.Summary
	}
	return md
}

func formatPeriod(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
