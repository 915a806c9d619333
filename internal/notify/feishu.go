package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/mailwatch/internal/model"
)

// feishuSender posts to a Feishu/Lark custom bot.
type feishuSender struct {
	hook webhookClient
}

type feishuElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type feishuPost struct {
	Title   string            `json:"title"`
	Content [][]feishuElement `json:"content"`
}

type feishuContent struct {
	Text string                `json:"text,omitempty"`
	Post map[string]feishuPost `json:"post,omitempty"`
}

type feishuPayload struct {
	MsgType string        `json:"msg_type"`
	Content feishuContent `json:"content"`
}

// feishuResponse covers both reply shapes: the current {code, msg} and
// the legacy {StatusCode, StatusMessage}.
type feishuResponse struct {
	Code          *int   `json:"code"`
	Msg           string `json:"msg"`
	StatusCode    *int   `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

func (s *feishuSender) Platform() model.Platform { return model.PlatformFeishu }

func (s *feishuSender) Send(ctx context.Context, ev model.NotificationEvent) error {
	body, err := s.hook.postJSON(ctx, feishuMessage(ev))
	if err != nil {
		return &DeliveryError{Platform: model.PlatformFeishu, Err: err}
	}

	var resp feishuResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &DeliveryError{Platform: model.PlatformFeishu, Err: fmt.Errorf("decoding response: %w", err)}
	}

	switch {
	case resp.StatusCode != nil && *resp.StatusCode == 0:
		return nil
	case resp.Code != nil && *resp.Code == 0:
		return nil
	case resp.Code != nil:
		return &DeliveryError{Platform: model.PlatformFeishu, Err: fmt.Errorf("code %d: %s", *resp.Code, resp.Msg)}
	default:
		return &DeliveryError{Platform: model.PlatformFeishu, Err: fmt.Errorf("StatusCode %s: %s", codeString(resp.StatusCode), resp.StatusMessage)}
	}
}

func feishuMessage(ev model.NotificationEvent) feishuPayload {
	if !carriesMessage(ev) {
		return feishuPayload{MsgType: "text", Content: feishuContent{Text: plainText(ev)}}
	}

	lines := messageLines(ev)
	rows := make([][]feishuElement, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []feishuElement{{Tag: "text", Text: l[0] + ": " + l[1]}})
	}
	return feishuPayload{
		MsgType: "post",
		Content: feishuContent{
			Post: map[string]feishuPost{
				"zh_cn": {Title: ev.Title, Content: rows},
			},
		},
	}
}
