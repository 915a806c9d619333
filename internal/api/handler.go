package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/account"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/notify"
)

// Handler serves the account and notification endpoints.
type Handler struct {
	accounts *account.Service
	configs  *notify.ConfigService
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(accounts *account.Service, configs *notify.ConfigService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{accounts: accounts, configs: configs, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("request failed",
		zap.String("path", r.URL.Path),
		zap.String("user_id", userID(r)),
		zap.Error(err),
	)
	writeError(w, err)
}

// ----------------------
// Accounts
// ----------------------

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []model.MailAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var in account.NewAccount
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.accounts.Add(r.Context(), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type testResult struct {
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) TestAccount(w http.ResponseWriter, r *http.Request) {
	var in account.NewAccount
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	res := h.accounts.Test(r.Context(), in)
	writeJSON(w, http.StatusOK, testResult{OK: res.OK, Kind: string(res.Kind), Reason: res.Reason()})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncSummary struct {
	AccountID string `json:"account_id"`
	Total     uint32 `json:"total"`
	From      uint32 `json:"from"`
	To        uint32 `json:"to"`
	Created   int    `json:"created"`
	Enriched  int    `json:"enriched"`
}

func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.Sync(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncSummary{
		AccountID: res.AccountID,
		Total:     res.Total,
		From:      res.From,
		To:        res.To,
		Created:   len(res.Created),
		Enriched:  res.Enriched,
	})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.accounts.UnreadCount(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ----------------------
// Notifications
// ----------------------

func (h *Handler) AddConfig(w http.ResponseWriter, r *http.Request) {
	var in notify.ConfigInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	cfg, err := h.configs.Add(r.Context(), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch notify.ConfigPatch
	if err := decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	cfg, err := h.configs.Update(r.Context(), userID(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.configs.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookTest struct {
	Platform model.Platform `json:"platform"`
	Webhook  string         `json:"webhook"`
}

func (h *Handler) TestConfig(w http.ResponseWriter, r *http.Request) {
	var in webhookTest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.configs.Test(r.Context(), in.Platform, in.Webhook); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sendTestRequest struct {
	Type    model.EventType `json:"type"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
}

func (h *Handler) SendTest(w http.ResponseWriter, r *http.Request) {
	var in sendTestRequest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.configs.SendTest(r.Context(), userID(r), in.Type, in.Title, in.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []model.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.configs.Stats(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notify.SupportedOptions())
}
