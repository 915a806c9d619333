package model

import "time"

// Priority is the importance assigned to a message by enrichment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Ordinal maps a priority to low=1, medium=2, high=3. Unknown values
// return 0.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Ordinal() > 0
}

// Sentiment is the tone assigned to a message by enrichment.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Enrichment is the semantic analysis attached to a message after it has
// been persisted.
type Enrichment struct {
	Summary        string    `json:"summary"`
	Priority       Priority  `json:"priority"`
	Sentiment      Sentiment `json:"sentiment"`
	Tags           []string  `json:"tags"`
	KeyPoints      []string  `json:"key_points"`
	ActionRequired bool      `json:"action_required"`
	Confidence     float64   `json:"confidence"`
}

// Message is a mail message ingested from a remote mailbox. The pair
// (AccountID, UID) is unique.
type Message struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id"`

	// AccountID links the message to the MailAccount it was fetched from.
	AccountID string `json:"account_id"`

	// UID is the mailbox-issued identifier, unique within the account.
	UID uint32 `json:"uid"`

	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`

	// Unread is true when the \Seen flag was absent at fetch time.
	Unread bool `json:"unread"`

	// Flags is the raw IMAP flag set at fetch time.
	Flags []string `json:"flags"`

	// Folder is the mailbox the message was fetched from.
	Folder string `json:"folder"`

	// Body is the plain-text body when it was fetched.
	Body string `json:"body,omitempty"`

	// Enrichment is nil until the enrichment dispatcher succeeds.
	Enrichment *Enrichment `json:"enrichment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
