// Package httpapi exposes the platform's REST surface: accounts, usage
// metering, projects, billing and sessions.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	app "github.com/stackgenhq/platform/internal/app"
	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/app/services/billing"
	"github.com/stackgenhq/platform/internal/app/services/metering"
	"github.com/stackgenhq/platform/internal/app/session"
	"github.com/stackgenhq/platform/internal/middleware"
)

// FeatureRunner executes a metered feature once the usage gate has passed.
type FeatureRunner interface {
	Run(ctx context.Context, accountID int64, feature string, payload map[string]any) (any, error)
}

// FeatureRunnerFunc adapts a function to FeatureRunner.
type FeatureRunnerFunc func(ctx context.Context, accountID int64, feature string, payload map[string]any) (any, error)

func (f FeatureRunnerFunc) Run(ctx context.Context, accountID int64, feature string, payload map[string]any) (any, error) {
	return f(ctx, accountID, feature, payload)
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	runner FeatureRunner
	auth   *middleware.Auth
	audit  *auditLog
}

// NewHandler returns a mux exposing the core REST API. runner may be nil,
// in which case feature invocations are metered but produce an empty
// result. auth may be nil, in which case sessions are created without
// bearer tokens.
func NewHandler(application *app.Application, runner FeatureRunner, auth *middleware.Auth) http.Handler {
	// The audit trail is in-memory with optional JSONL persistence.
	var sink auditSink
	if fileSink, _ := newFileAuditSink(os.Getenv("AUDIT_LOG_PATH")); fileSink != nil {
		sink = fileSink
	}
	h := &handler{app: application, runner: runner, auth: auth, audit: newAuditLog(200, sink)}
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", h.accounts)
	mux.HandleFunc("/accounts/", h.accountResources)
	mux.HandleFunc("/billing/orders", h.billingOrders)
	mux.HandleFunc("/billing/webhook", h.billingWebhook)
	mux.HandleFunc("/billing/pending", h.billingPending)
	mux.HandleFunc("/sessions", h.sessions)
	mux.HandleFunc("/sessions/", h.sessionResource)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", h.health)
	return mux
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.list(limit))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- accounts ---------------------------------------------------------------

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Email) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("email is required"))
		return
	}

	acct, err := h.app.Store.CreateAccount(r.Context(), account.Account{Email: strings.TrimSpace(payload.Email)})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.audit.add(auditEntry{AccountID: acct.ID, Event: "account_created", Status: http.StatusCreated})
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) accountResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	accountID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account id %q", parts[0]))
		return
	}

	if len(parts) == 1 {
		h.account(w, r, accountID)
		return
	}

	switch parts[1] {
	case "usage":
		h.accountUsage(w, r, accountID)
	case "features":
		h.accountFeatures(w, r, accountID, parts[2:])
	case "projects":
		h.accountProjects(w, r, accountID, parts[2:])
	case "credits":
		h.accountCredits(w, r, accountID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) account(w http.ResponseWriter, r *http.Request, accountID int64) {
	switch r.Method {
	case http.MethodGet:
		acct, err := h.app.Store.GetAccount(r.Context(), accountID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)

	case http.MethodPatch:
		h.patchAccount(w, r, accountID)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// patchAccount applies partial account updates. Each present field maps to
// one store mutation so every change funnels through the invalidation path.
func (h *handler) patchAccount(w http.ResponseWriter, r *http.Request, accountID int64) {
	var payload struct {
		TourCompleted *bool   `json:"tour_completed"`
		CustomDomain  *string `json:"custom_domain"`
		Premium       *bool   `json:"premium"`
		PremiumUntil  *string `json:"premium_until"`
		Banned        *bool   `json:"banned"`
		Admin         *bool   `json:"admin"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	var err error
	if payload.TourCompleted != nil {
		_, err = h.app.Store.SetTourCompleted(ctx, accountID, *payload.TourCompleted)
	}
	if err == nil && payload.CustomDomain != nil {
		_, err = h.app.Store.SetCustomDomain(ctx, accountID, *payload.CustomDomain)
	}
	if err == nil && payload.Premium != nil {
		var until *time.Time
		if payload.PremiumUntil != nil {
			parsed, perr := time.Parse(time.RFC3339, *payload.PremiumUntil)
			if perr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid premium_until: %w", perr))
				return
			}
			until = &parsed
		}
		_, err = h.app.Store.SetPremium(ctx, accountID, *payload.Premium, until)
	}
	if err == nil && payload.Banned != nil {
		_, err = h.app.Store.SetBanned(ctx, accountID, *payload.Banned)
	}
	if err == nil && payload.Admin != nil {
		_, err = h.app.Store.SetAdmin(ctx, accountID, *payload.Admin)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	acct, err := h.app.Store.GetAccount(ctx, accountID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) accountCredits(w http.ResponseWriter, r *http.Request, accountID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Delta *int64 `json:"delta"`
		Set   *int64 `json:"set"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch {
	case payload.Set != nil:
		acct, err := h.app.Store.UpdateCredits(r.Context(), accountID, *payload.Set)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case payload.Delta != nil:
		acct, err := h.app.Store.AddCredits(r.Context(), accountID, *payload.Delta)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("delta or set is required"))
	}
}

func (h *handler) accountUsage(w http.ResponseWriter, r *http.Request, accountID int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.app.Metering.Usage(r.Context(), accountID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

// --- metered feature invocation ---------------------------------------------

func (h *handler) accountFeatures(w http.ResponseWriter, r *http.Request, accountID int64, rest []string) {
	if len(rest) != 2 || rest[1] != "invoke" || rest[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	feature := rest[0]

	allowed, err := h.app.Metering.CheckUsageLimit(r.Context(), accountID, feature)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !allowed {
		h.audit.add(auditEntry{AccountID: accountID, Event: "feature_denied", Detail: feature, Status: http.StatusPaymentRequired})
		writeError(w, http.StatusPaymentRequired, metering.ErrInsufficientCredits)
		return
	}

	var payload map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeLooseJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var result any
	if h.runner != nil {
		result, err = h.runner.Run(r.Context(), accountID, feature, payload)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	ctr, err := h.app.Metering.DeductCreditForUsage(r.Context(), accountID, feature)
	if err != nil {
		if errors.Is(err, metering.ErrInsufficientCredits) {
			h.audit.add(auditEntry{AccountID: accountID, Event: "feature_denied", Detail: feature, Status: http.StatusPaymentRequired})
			writeError(w, http.StatusPaymentRequired, err)
			return
		}
		writeStoreError(w, err)
		return
	}

	h.audit.add(auditEntry{AccountID: accountID, Event: "feature_invoked", Detail: feature, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string]any{
		"feature":    feature,
		"used_count": ctr.UsedCount,
		"result":     result,
	})
}

// --- projects ---------------------------------------------------------------

func (h *handler) accountProjects(w http.ResponseWriter, r *http.Request, accountID int64, rest []string) {
	if len(rest) == 1 && rest[0] != "" {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		projectID, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid project id %q", rest[0]))
			return
		}
		if err := h.app.Store.DeleteProject(r.Context(), accountID, projectID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if len(rest) > 0 && rest[0] != "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		projects, err := h.app.Store.ListProjects(r.Context(), accountID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)

	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(payload.Name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		created, err := h.app.Store.CreateProject(r.Context(), project.Project{
			AccountID: accountID,
			Name:      payload.Name,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- billing ----------------------------------------------------------------

func (h *handler) billingOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		AccountID int64 `json:"account_id"`
		Credits   int64 `json:"credits"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The account must exist before we open a gateway order for it.
	if _, err := h.app.Store.GetAccount(r.Context(), payload.AccountID); err != nil {
		writeStoreError(w, err)
		return
	}

	order, err := h.app.Billing.CreateOrder(r.Context(), payload.AccountID, payload.Credits)
	if err != nil {
		if errors.Is(err, billing.ErrGatewayUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// billingWebhook settles payment completions. Signature failures return
// 400 with no detail; nothing is credited on any error path.
func (h *handler) billingWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Billing.ProcessSuccessfulPayment(r.Context(), payload.OrderID, payload.PaymentID, payload.Signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSignatureMismatch):
			h.audit.add(auditEntry{Event: "payment_rejected", Detail: payload.OrderID, Status: http.StatusBadRequest})
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, billing.ErrPaymentNotCaptured):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, billing.ErrGatewayUnavailable):
			writeError(w, http.StatusServiceUnavailable, err)
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown order"))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.audit.add(auditEntry{AccountID: p.AccountID, Event: "payment_settled", Detail: p.OrderID, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) billingPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pending, err := h.app.Billing.PendingPayments(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// --- sessions ---------------------------------------------------------------

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		AccountID int64 `json:"account_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.app.Store.GetAccount(r.Context(), payload.AccountID); err != nil {
		writeStoreError(w, err)
		return
	}

	rec, err := h.app.Sessions.Create(r.Context(), payload.AccountID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]any{"session": rec}
	if h.auth != nil {
		token, err := h.auth.IssueToken(rec.AccountID, rec.ID, rec.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["token"] = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) sessionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if id == "current" {
		h.currentSession(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// currentSession resolves the caller's bearer token to its live session
// record. A valid token whose session has been deleted still gets 401: the
// session store, not the token, is authoritative.
func (h *handler) currentSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.auth == nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication not configured"))
		return
	}

	claims, err := h.auth.RequestClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
		return
	}

	rec, err := h.app.Sessions.Get(r.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("session expired"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeLooseJSON accepts arbitrary payloads for feature invocations.
func decodeLooseJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeStoreError maps persistence errors onto HTTP statuses: missing rows
// are 404, anything else propagates as 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
