package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nhle/mailwatch/internal/model"
)

// weComSender posts to a WeCom (WeChat Work) group robot.
type weComSender struct {
	hook webhookClient
}

type weComContent struct {
	Content string `json:"content"`
}

type weComPayload struct {
	MsgType  string        `json:"msgtype"`
	Text     *weComContent `json:"text,omitempty"`
	Markdown *weComContent `json:"markdown,omitempty"`
}

type weComResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s *weComSender) Platform() model.Platform { return model.PlatformWeCom }

func (s *weComSender) Send(ctx context.Context, ev model.NotificationEvent) error {
	body, err := s.hook.postJSON(ctx, weComMessage(ev))
	if err != nil {
		return &DeliveryError{Platform: model.PlatformWeCom, Err: err}
	}

	var resp weComResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &DeliveryError{Platform: model.PlatformWeCom, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if resp.ErrCode == nil || *resp.ErrCode != 0 {
		return &DeliveryError{Platform: model.PlatformWeCom, Err: fmt.Errorf("errcode %s: %s", codeString(resp.ErrCode), resp.ErrMsg)}
	}
	return nil
}

func weComMessage(ev model.NotificationEvent) weComPayload {
	if !carriesMessage(ev) {
		return weComPayload{MsgType: "text", Text: &weComContent{Content: plainText(ev)}}
	}

	var b strings.Builder
	b.WriteString("# " + ev.Title)
	for _, l := range messageLines(ev) {
		fmt.Fprintf(&b, "\n\n**%s**: %s", l[0], l[1])
	}
	return weComPayload{MsgType: "markdown", Markdown: &weComContent{Content: b.String()}}
}
