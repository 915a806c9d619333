package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

// HeaderFields are the header fields fetched for every message.
var HeaderFields = []string{"From", "To", "Subject", "Date", "Message-ID"}

const logoutTimeout = 5 * time.Second

var errFetchConsumed = errors.New("fetch sequence already consumed")

// Dialer implements source.MailboxClient on top of go-imap v2.
type Dialer struct {
	// Timeout bounds dial, greeting and login. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	Logger  *zap.Logger
}

var _ source.MailboxClient = (*Dialer)(nil)

// NewDialer creates a Dialer with the given connect timeout.
func NewDialer(timeout time.Duration, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{Timeout: timeout, Logger: logger}
}

// Connect dials the server (implicit TLS when cfg.Secure, STARTTLS when
// cfg.StartTLS, plain otherwise) and logs in. When ctx ends before login
// completes the socket is closed and a Timeout ConnectionError returned.
func (d *Dialer) Connect(ctx context.Context, cfg model.ConnectionConfig) (source.Connection, error) {
	if err := source.ValidateConnection(cfg); err != nil {
		return nil, err
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ctx, addr, err)
	}

	// Tear the socket down if ctx ends while the handshake is in flight.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	var client *imapclient.Client
	switch {
	case cfg.Secure:
		client = imapclient.New(tls.Client(conn, tlsConfig), opts)
	case cfg.StartTLS:
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, classify(ctx, addr, err)
		}
	default:
		client = imapclient.New(conn, opts)
	}

	if err := client.WaitGreeting(); err != nil {
		stop()
		_ = client.Close()
		return nil, classify(ctx, addr, err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		stop()
		_ = client.Close()
		return nil, classify(ctx, addr, err)
	}

	if !stop() {
		// ctx ended right as login finished; the socket is already gone.
		_ = client.Close()
		return nil, classify(ctx, addr, ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	d.Logger.Debug("imap login succeeded",
		zap.String("addr", addr), zap.String("username", cfg.Username))

	return &imapConn{client: client, conn: conn, addr: addr}, nil
}

// classify maps a connect-phase failure to a ConnectionError. An ended
// context or a network timeout is a Timeout, a tagged NO/BAD response is
// an authentication rejection, and anything else is unreachable.
func classify(ctx context.Context, addr string, err error) *source.ConnectionError {
	if ctx.Err() != nil {
		return &source.ConnectionError{Kind: source.KindTimeout, Addr: addr, Err: ctx.Err()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &source.ConnectionError{Kind: source.KindTimeout, Addr: addr, Err: err}
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &source.ConnectionError{Kind: source.KindAuthenticationRejected, Addr: addr, Err: err}
	}

	return &source.ConnectionError{Kind: source.KindNetworkUnreachable, Addr: addr, Err: err}
}

// imapConn is an authenticated go-imap session.
type imapConn struct {
	client *imapclient.Client
	conn   net.Conn
	addr   string
}

// OpenMailbox selects the named mailbox.
func (c *imapConn) OpenMailbox(ctx context.Context, name string, readOnly bool) (*source.MailboxStatus, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	data, err := c.client.Select(name, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &source.ConnectionError{Kind: source.KindTimeout, Addr: c.addr, Err: ctx.Err()}
		}
		return nil, fmt.Errorf("selecting %s: %w", name, err)
	}

	return &source.MailboxStatus{Name: name, TotalMessages: data.NumMessages}, nil
}

// FetchRange streams envelopes for the sequence range from..to. The
// returned sequence yields at most one error, after which it ends.
func (c *imapConn) FetchRange(
	ctx context.Context, from, to uint32, parts source.FetchParts,
) iter.Seq2[source.Envelope, error] {
	var used atomic.Bool

	return func(yield func(source.Envelope, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(source.Envelope{}, errFetchConsumed)
			return
		}
		if from == 0 || to < from {
			return
		}

		stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
		defer stop()

		var seqSet imap.SeqSet
		seqSet.AddRange(from, to)

		headerSection := &imap.FetchItemBodySection{
			Specifier:    imap.PartSpecifierHeader,
			HeaderFields: HeaderFields,
			Peek:         true,
		}
		fetchOpts := &imap.FetchOptions{
			UID:          true,
			Flags:        true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{headerSection},
		}

		var bodySection *imap.FetchItemBodySection
		if parts.Body {
			bodySection = &imap.FetchItemBodySection{Peek: true}
			fetchOpts.BodySection = append(fetchOpts.BodySection, bodySection)
		}

		fetchCmd := c.client.Fetch(seqSet, fetchOpts)
		defer fetchCmd.Close()

		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				yield(source.Envelope{}, c.fetchError(ctx, err))
				return
			}

			env := source.Envelope{
				UID:    uint32(buf.UID),
				Date:   buf.InternalDate,
				Header: buf.FindBodySection(headerSection),
			}
			for _, flag := range buf.Flags {
				env.Flags = append(env.Flags, string(flag))
			}
			if bodySection != nil {
				if raw := buf.FindBodySection(bodySection); raw != nil {
					env.Body = parseTextBody(raw)
				}
			}

			if !yield(env, nil) {
				return
			}
		}

		if err := fetchCmd.Close(); err != nil {
			yield(source.Envelope{}, c.fetchError(ctx, err))
		}
	}
}

func (c *imapConn) fetchError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &source.ConnectionError{Kind: source.KindTimeout, Addr: c.addr, Err: ctx.Err()}
	}
	return fmt.Errorf("fetching messages: %w", err)
}

// Close logs out, bounded by a short deadline, and closes the socket.
func (c *imapConn) Close() error {
	_ = c.conn.SetDeadline(time.Now().Add(logoutTimeout))
	logoutErr := c.client.Logout().Wait()
	closeErr := c.client.Close()
	if logoutErr != nil {
		return fmt.Errorf("logging out of %s: %w", c.addr, logoutErr)
	}
	return closeErr
}

// parseTextBody extracts the text/plain part of a raw RFC 5322 message
// using go-message. A message with only an HTML part yields the HTML. A
// message that is not valid MIME is returned as-is.
func parseTextBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	if textBody != "" {
		return textBody
	}
	return htmlBody
}
