package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nhle/mailwatch/internal/model"
)

// dingTalkSender posts to a DingTalk custom robot.
type dingTalkSender struct {
	hook webhookClient
}

type dingTalkText struct {
	Content string `json:"content"`
}

type dingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type dingTalkPayload struct {
	MsgType  string            `json:"msgtype"`
	Text     *dingTalkText     `json:"text,omitempty"`
	Markdown *dingTalkMarkdown `json:"markdown,omitempty"`
}

type dingTalkResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s *dingTalkSender) Platform() model.Platform { return model.PlatformDingTalk }

func (s *dingTalkSender) Send(ctx context.Context, ev model.NotificationEvent) error {
	body, err := s.hook.postJSON(ctx, dingTalkMessage(ev))
	if err != nil {
		return &DeliveryError{Platform: model.PlatformDingTalk, Err: err}
	}

	var resp dingTalkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &DeliveryError{Platform: model.PlatformDingTalk, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if resp.ErrCode == nil || *resp.ErrCode != 0 {
		return &DeliveryError{Platform: model.PlatformDingTalk, Err: fmt.Errorf("errcode %s: %s", codeString(resp.ErrCode), resp.ErrMsg)}
	}
	return nil
}

func dingTalkMessage(ev model.NotificationEvent) dingTalkPayload {
	if !carriesMessage(ev) {
		return dingTalkPayload{MsgType: "text", Text: &dingTalkText{Content: plainText(ev)}}
	}

	var b strings.Builder
	b.WriteString("### " + ev.Title)
	for _, l := range messageLines(ev) {
		fmt.Fprintf(&b, "\n\n**%s**: %s", l[0], l[1])
	}
	return dingTalkPayload{
		MsgType:  "markdown",
		Markdown: &dingTalkMarkdown{Title: ev.Title, Text: b.String()},
	}
}

func codeString(code *int) string {
	if code == nil {
		return "missing"
	}
	return fmt.Sprint(*code)
}
