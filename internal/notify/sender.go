package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// DefaultSendTimeout bounds one webhook send.
const DefaultSendTimeout = 5 * time.Second

// Sender delivers events to one webhook of one platform. Each variant owns
// its payload shape and interprets its platform's success code.
type Sender interface {
	Platform() model.Platform
	Send(ctx context.Context, ev model.NotificationEvent) error
}

// SenderFactory builds the sender for a platform webhook.
type SenderFactory func(platform model.Platform, webhook string) (Sender, error)

// DeliveryError is a failed send to one webhook.
type DeliveryError struct {
	Platform model.Platform
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Platform, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError checks whether err is (or wraps) a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// NewSender returns the sender variant for platform, posting with client.
// A nil client gets one bounded by DefaultSendTimeout.
func NewSender(platform model.Platform, webhook string, client *http.Client) (Sender, error) {
	if err := validateWebhook(webhook); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultSendTimeout}
	}

	hook := webhookClient{url: webhook, httpClient: client}
	switch platform {
	case model.PlatformDingTalk:
		return &dingTalkSender{hook: hook}, nil
	case model.PlatformFeishu:
		return &feishuSender{hook: hook}, nil
	case model.PlatformWeCom:
		return &weComSender{hook: hook}, nil
	default:
		return nil, &ValidationError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", platform)}
	}
}

// HTTPSenderFactory returns a SenderFactory sharing one HTTP client.
func HTTPSenderFactory(client *http.Client) SenderFactory {
	return func(platform model.Platform, webhook string) (Sender, error) {
		return NewSender(platform, webhook, client)
	}
}

func validateWebhook(webhook string) error {
	u, err := url.Parse(webhook)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "webhook", Message: "must be an absolute http(s) URL"}
	}
	return nil
}
