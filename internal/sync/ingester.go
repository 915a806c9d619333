package sync

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/metrics"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
)

const seenFlag = `\Seen`

// Ingester turns fetched envelopes into persisted messages, skipping any
// (account, uid) pair that is already stored.
type Ingester struct {
	store  store.MessageStore
	logger *zap.Logger
}

// NewIngester creates an Ingester.
func NewIngester(s store.MessageStore, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: s, logger: logger}
}

// Ingest consumes envelopes in arrival order and returns the messages
// it created. Failures of a single envelope are logged and skip only that
// envelope. An error yielded by the sequence itself ends ingestion and is
// returned together with the messages created before it.
func (in *Ingester) Ingest(
	ctx context.Context,
	accountID, folder string,
	envelopes iter.Seq2[source.Envelope, error],
) ([]model.Message, error) {
	var created []model.Message

	for env, err := range envelopes {
		if err != nil {
			return created, err
		}

		msg, ok := in.ingestOne(ctx, accountID, folder, env)
		if ok {
			created = append(created, msg)
		}
	}

	return created, nil
}

// ingestOne persists a single envelope. It reports false when the
// envelope was a duplicate or failed.
func (in *Ingester) ingestOne(
	ctx context.Context, accountID, folder string, env source.Envelope,
) (model.Message, bool) {
	log := in.logger.With(zap.String("account_id", accountID), zap.Uint32("uid", env.UID))

	_, err := in.store.FindMessage(ctx, accountID, env.UID)
	switch {
	case err == nil:
		metrics.MessagesIngested.WithLabelValues("duplicate").Inc()
		return model.Message{}, false
	case !errors.Is(err, store.ErrNotFound):
		log.Warn("looking up message", zap.Error(err))
		metrics.MessagesIngested.WithLabelValues("failed").Inc()
		return model.Message{}, false
	}

	fields, err := ParseHeader(env.Header)
	if err != nil {
		log.Warn("parsing message header", zap.Error(err))
		metrics.MessagesIngested.WithLabelValues("failed").Inc()
		return model.Message{}, false
	}

	date := env.Date
	if date.IsZero() {
		date = fields.Date
	}
	if date.IsZero() {
		date = time.Now()
	}

	msg := model.Message{
		AccountID: accountID,
		UID:       env.UID,
		Sender:    fields.From,
		Recipient: fields.To,
		Subject:   fields.Subject,
		Date:      date,
		Unread:    !hasFlag(env.Flags, seenFlag),
		Flags:     env.Flags,
		Folder:    folder,
		Body:      env.Body,
	}

	if err := in.store.CreateMessage(ctx, &msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a writer that passed the same lookup.
			metrics.MessagesIngested.WithLabelValues("duplicate").Inc()
			return model.Message{}, false
		}
		log.Warn("storing message", zap.Error(err))
		metrics.MessagesIngested.WithLabelValues("failed").Inc()
		return model.Message{}, false
	}

	metrics.MessagesIngested.WithLabelValues("created").Inc()
	return msg, true
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// HeaderFields are the decoded header values the ingester stores.
type HeaderFields struct {
	Subject string
	From    string
	To      string
	Date    time.Time
}

// ParseHeader decodes a raw header block. Missing fields are left empty.
// MIME encoded-words are decoded; a field that fails to decode keeps its
// raw value.
func ParseHeader(raw []byte) (HeaderFields, error) {
	var fields HeaderFields
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields, nil
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return fields, fmt.Errorf("reading header: %w", err)
	}
	mh := mail.Header{Header: message.Header{Header: h}}

	fields.Subject = decodedText(mh, "Subject")
	fields.From = decodedText(mh, "From")
	fields.To = decodedText(mh, "To")
	if d, err := mh.Date(); err == nil {
		fields.Date = d
	}
	return fields, nil
}

func decodedText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return v
}
