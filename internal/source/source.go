package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// ConnectionErrorKind classifies why a mailbox connection failed.
type ConnectionErrorKind string

const (
	KindTimeout                ConnectionErrorKind = "timeout"
	KindAuthenticationRejected ConnectionErrorKind = "authentication_rejected"
	KindNetworkUnreachable     ConnectionErrorKind = "network_unreachable"
)

// ConnectionError indicates that a mailbox could not be reached or
// refused the configured credentials.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error (%s): %s", e.Kind, e.Addr)
	}
	return fmt.Sprintf("connection error (%s): %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// ConnectionErrorKindOf returns the kind of the first ConnectionError in
// err's chain, or "" when there is none.
func ConnectionErrorKindOf(err error) ConnectionErrorKind {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind
	}
	return ""
}

// ValidationError indicates a malformed connection config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err (or any error in its chain) is a
// ValidationError.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// ValidateConnection checks the fields a connection attempt needs.
func ValidateConnection(cfg model.ConnectionConfig) error {
	switch {
	case cfg.Host == "":
		return &ValidationError{Field: "host", Message: "must not be empty"}
	case cfg.Port <= 0 || cfg.Port > 65535:
		return &ValidationError{Field: "port", Message: fmt.Sprintf("%d is out of range", cfg.Port)}
	case cfg.Username == "":
		return &ValidationError{Field: "username", Message: "must not be empty"}
	case cfg.Secure && cfg.StartTLS:
		return &ValidationError{Field: "start_tls", Message: "cannot be combined with secure"}
	}
	return nil
}

// Envelope is one fully assembled message as yielded by FetchRange.
type Envelope struct {
	// UID is the mailbox-issued message identifier.
	UID uint32

	// Flags is the raw flag set, e.g. \Seen, \Flagged.
	Flags []string

	// Date is the server's internal date for the message.
	Date time.Time

	// Header holds the raw header block of the fetched header fields.
	Header []byte

	// Body is the plain-text body, empty unless requested.
	Body string
}

// MailboxStatus is reported when a mailbox is opened.
type MailboxStatus struct {
	Name          string
	TotalMessages uint32
}

// FetchParts selects optional parts of each envelope.
type FetchParts struct {
	Body bool
}

// MailboxClient opens connections to remote mailboxes.
type MailboxClient interface {
	// Connect dials and authenticates. Failures are *ConnectionError.
	Connect(ctx context.Context, cfg model.ConnectionConfig) (Connection, error)
}

// Connection is an authenticated session with one mailbox server.
type Connection interface {
	// OpenMailbox selects a mailbox and reports its size.
	OpenMailbox(ctx context.Context, name string, readOnly bool) (*MailboxStatus, error)

	// FetchRange yields envelopes for sequence numbers from..to inclusive,
	// in arrival order. The sequence can be ranged over only once.
	FetchRange(ctx context.Context, from, to uint32, parts FetchParts) iter.Seq2[Envelope, error]

	// Close logs out and releases the connection.
	Close() error
}
