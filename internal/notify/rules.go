package notify

import (
	"strings"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// ShouldNotify reports whether cfg wants ev at wall-clock time now. All
// filters are conjunctive and an unset filter always passes.
//
// The time window compares zero-padded "HH:mm" strings, so a window that
// crosses midnight (e.g. 22:00-06:00) never matches.
func ShouldNotify(ev model.NotificationEvent, cfg model.NotificationConfig, now time.Time) bool {
	if !cfg.Subscribes(ev.Type) {
		return false
	}

	f := cfg.Filters

	if tr := f.TimeRange; tr != nil && tr.Start != "" && tr.End != "" {
		current := now.Format("15:04")
		if current < tr.Start || current > tr.End {
			return false
		}
	}

	if len(f.Keywords) > 0 {
		title := strings.ToLower(ev.Title)
		content := strings.ToLower(ev.Content)
		matched := false
		for _, kw := range f.Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(title, kw) || strings.Contains(content, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.Senders) > 0 && ev.Metadata.Sender != "" {
		sender := strings.ToLower(ev.Metadata.Sender)
		matched := false
		for _, s := range f.Senders {
			if strings.Contains(sender, strings.ToLower(s)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.MinPriority != "" && ev.Metadata.Priority != "" {
		if ev.Metadata.Priority.Ordinal() < f.MinPriority.Ordinal() {
			return false
		}
	}

	return true
}
