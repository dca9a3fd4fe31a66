// Package api exposes the commitment ledger over HTTP: challenge lifecycle,
// commitments, quotes, settlement, and progress updates.
//
// Amounts travel as decimal strings.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bealive/commitment-ledger/internal/auth"
	"github.com/bealive/commitment-ledger/internal/ledger"
	"github.com/bealive/commitment-ledger/internal/model"
	"github.com/bealive/commitment-ledger/internal/terms"
)

// Handler serves the ledger's HTTP endpoints.
type Handler struct {
	ledger *ledger.Ledger
}

// NewHandler creates a Handler over l.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

// --- Request/Response types ---

// CreateChallengeRequest is the JSON body for POST /challenges.
type CreateChallengeRequest struct {
	Description string `json:"description"`
	Stake       string `json:"stake"`    // decimal string, e.g. "20" or "12.50"
	Duration    string `json:"duration"` // "7d" or a Go duration such as "36h"
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

// CommitRequest is the JSON body for POST /challenges/{id}/commitments.
type CommitRequest struct {
	Side string `json:"side"` // "YES" or "NO"
}

// ResolveRequest is the JSON body for POST /challenges/{id}/resolve.
type ResolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// UpdateRequest is the JSON body for POST /challenges/{id}/updates.
type UpdateRequest struct {
	Text string `json:"text"`
}

// CancelResponse is returned from POST /challenges/{id}/cancel.
type CancelResponse struct {
	Challenge *model.Challenge `json:"challenge"`
	Refunds   []model.Payout   `json:"refunds"`
}

// CommitResponse is returned from POST /challenges/{id}/commitments.
type CommitResponse struct {
	Commitment *model.Commitment `json:"commitment"`
	Challenge  *model.Challenge  `json:"challenge"`
}

// --- HTTP Handlers ---

// CreateChallenge handles POST /api/v1/challenges
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	creator, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_input", http.StatusBadRequest)
		return
	}

	stake, err := terms.ParseStake(req.Stake)
	if err != nil {
		writeError(w, err.Error(), string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}
	dur, err := terms.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, err.Error(), string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}

	c, err := h.ledger.CreateChallenge(r.Context(), ledger.NewChallenge{
		CreatorID:   creator,
		Description: req.Description,
		Stake:       stake,
		Duration:    dur,
		SnapshotURL: req.SnapshotURL,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// ListChallenges handles GET /api/v1/challenges?status=&creator=
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ChallengeFilter{
		Status:    model.Status(strings.ToUpper(q.Get("status"))),
		CreatorID: q.Get("creator"),
	}
	switch f.Status {
	case "", model.StatusOpen, model.StatusResolvedTrue, model.StatusResolvedFalse, model.StatusCancelled:
	default:
		writeError(w, "unknown status "+q.Get("status"), string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}

	challenges, err := h.ledger.ListChallenges(r.Context(), f)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenges)
}

// GetChallenge handles GET /api/v1/challenges/{challengeID}
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := h.ledger.GetChallenge(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelChallenge handles POST /api/v1/challenges/{challengeID}/cancel
func (h *Handler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireParticipant(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "challengeID")
	ctx := r.Context()

	refunds, err := h.ledger.CancelChallenge(ctx, id, requester)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	c, err := h.ledger.GetChallenge(ctx, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Challenge: c, Refunds: refunds})
}

// Commit handles POST /api/v1/challenges/{challengeID}/commitments
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	participant, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "challengeID")
	ctx := r.Context()
	side := model.Side(strings.ToUpper(strings.TrimSpace(req.Side)))

	cm, err := h.ledger.Commit(ctx, id, participant, side)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	c, err := h.ledger.GetChallenge(ctx, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommitResponse{Commitment: cm, Challenge: c})
}

// ListCommitments handles GET /api/v1/challenges/{challengeID}/commitments
func (h *Handler) ListCommitments(w http.ResponseWriter, r *http.Request) {
	commitments, err := h.ledger.ListCommitments(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitments)
}

// Quote handles GET /api/v1/challenges/{challengeID}/quote?side=YES
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	side := model.Side(strings.ToUpper(r.URL.Query().Get("side")))
	q, err := h.ledger.Quote(r.Context(), chi.URLParam(r, "challengeID"), side)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Resolve handles POST /api/v1/challenges/{challengeID}/resolve
// The caller acts as the outcome oracle.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	oracle, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Outcome == nil {
		writeError(w, "outcome (true or false) is required", string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "challengeID")
	rec, err := h.ledger.Resolve(r.Context(), id, *req.Outcome)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	slog.Info("outcome reported", "challenge", id, "oracle", oracle, "outcome", *req.Outcome)
	writeJSON(w, http.StatusOK, rec)
}

// GetSettlement handles GET /api/v1/challenges/{challengeID}/settlement
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.GetSettlement(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PostUpdate handles POST /api/v1/challenges/{challengeID}/updates
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	author, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", string(ledger.KindInvalidInput), http.StatusBadRequest)
		return
	}

	u, err := h.ledger.PostUpdate(r.Context(), chi.URLParam(r, "challengeID"), author, req.Text)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// ListUpdates handles GET /api/v1/challenges/{challengeID}/updates
func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.ledger.ListUpdates(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

// MyCommitments handles GET /api/v1/participants/me/commitments
func (h *Handler) MyCommitments(w http.ResponseWriter, r *http.Request) {
	participant, ok := requireParticipant(w, r)
	if !ok {
		return
	}
	positions, err := h.ledger.ListPositions(r.Context(), participant)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// --- helpers ---

func requireParticipant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		writeError(w, "authentication required", "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindForbidden:
		return http.StatusForbidden
	case ledger.KindInvalidState, ledger.KindDuplicateCommitment,
		ledger.KindExpiredChallenge, ledger.KindExposureLimit:
		return http.StatusConflict
	case ledger.KindTooEarly:
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		slog.Error("ledger failure", "err", err)
		writeError(w, "internal error", "internal", http.StatusInternalServerError)
		return
	}
	msg := le.Msg
	if msg == "" {
		msg = string(le.Kind)
	}
	writeError(w, msg, string(le.Kind), statusFor(le.Kind))
}

func writeError(w http.ResponseWriter, message, kind string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
