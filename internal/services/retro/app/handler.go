package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/requestctx"
	"github.com/louisbranch/retroboard/internal/platform/timeouts"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/identity"
	"github.com/louisbranch/retroboard/internal/services/retro/registry"
	"github.com/louisbranch/retroboard/internal/services/retro/session"
)

const maxRequestBodyBytes = 64 * 1024

type handler struct {
	registry *registry.Registry
	resolver *identity.Resolver
}

type createRetroRequest struct {
	Name  string   `json:"name"`
	Lanes []string `json:"lanes"`
}

type listRetrosResponse struct {
	Retros        []domain.Summary `json:"retros"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	TotalSize     int              `json:"total_size"`
}

type rosterResponse struct {
	Version      uint64                   `json:"version"`
	Participants []domain.ParticipantView `json:"participants"`
}

type addCardRequest struct {
	LaneID string `json:"lane_id"`
	Text   string `json:"text"`
}

type editCardRequest struct {
	Text string `json:"text"`
}

type voteRequest struct {
	Add *bool `json:"add"`
}

type stepRequest struct {
	Direction int    `json:"direction"`
	Target    string `json:"target"`
}

type cardResponse struct {
	Version    uint64          `json:"version"`
	Card       domain.CardView `json:"card"`
	VoterCount int             `json:"voter_count"`
}

type stepResponse struct {
	Version uint64       `json:"version"`
	Phase   domain.Phase `json:"phase"`
}

// NewHandler builds the retro HTTP routes over reg. Callers are identified by
// resolver.
func NewHandler(reg *registry.Registry, resolver *identity.Resolver) http.Handler {
	h := &handler{registry: reg, resolver: resolver}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /v1/retros", h.createRetro)
	mux.HandleFunc("GET /v1/retros", h.listRetros)
	mux.HandleFunc("GET /v1/retros/{id}", h.getRetro)
	mux.HandleFunc("POST /v1/retros/{id}/participants", h.joinRetro)
	mux.HandleFunc("DELETE /v1/retros/{id}/participants/me", h.leaveRetro)
	mux.HandleFunc("POST /v1/retros/{id}/cards", h.addCard)
	mux.HandleFunc("PATCH /v1/retros/{id}/cards/{card_id}", h.editCard)
	mux.HandleFunc("PUT /v1/retros/{id}/cards/{card_id}/vote", h.voteCard)
	mux.HandleFunc("POST /v1/retros/{id}/step", h.updateStep)
	mux.HandleFunc("GET /v1/retros/{id}/ws", h.stream)
	return resolver.Middleware(mux)
}

// requireUser returns the caller stored by the identity middleware, or the
// resolver's reason for not finding one.
func (h *handler) requireUser(r *http.Request) (requestctx.User, error) {
	if user, ok := requestctx.UserFromContext(r.Context()); ok {
		return user, nil
	}
	return h.resolver.Resolve(r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.CodeInvalidArgument, "request body is required")
		}
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}

func (h *handler) execute(r *http.Request, cmd domain.Command) (session.Result, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Command)
	defer cancel()
	return h.registry.Execute(ctx, r.PathValue("id"), cmd)
}

func (h *handler) createRetro(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createRetroRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.registry.Create(r.Context(), registry.CreateRetroInput{
		Name:        req.Name,
		CreatorID:   user.ID,
		CreatorName: user.Username,
		Lanes:       req.Lanes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/retros/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) listRetros(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireUser(r); err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	opts := registry.ListOptions{
		Filter:    query.Get("filter"),
		PageToken: query.Get("page_token"),
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid page_size %q", raw), err))
			return
		}
		opts.PageSize = size
	}
	page, err := h.registry.List(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Retros == nil {
		page.Retros = []domain.Summary{}
	}
	writeJSON(w, http.StatusOK, listRetrosResponse{
		Retros:        page.Retros,
		NextPageToken: page.NextPageToken,
		TotalSize:     page.TotalSize,
	})
}

func (h *handler) getRetro(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.registry.Retro(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) joinRetro(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.execute(r, domain.Join{UserID: user.ID, Username: user.Username})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rosterResponse{Version: result.Version, Participants: result.Roster})
}

func (h *handler) leaveRetro(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.execute(r, domain.Leave{UserID: user.ID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rosterResponse{Version: result.Version, Participants: result.Roster})
}

func (h *handler) addCard(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addCardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.execute(r, domain.AddCard{LaneID: req.LaneID, CreatorID: user.ID, Text: req.Text})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCard(w, r, http.StatusCreated, result)
}

func (h *handler) editCard(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req editCardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.execute(r, domain.EditCard{CardID: r.PathValue("card_id"), EditorID: user.ID, Text: req.Text})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCard(w, r, http.StatusOK, result)
}

func (h *handler) voteCard(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req voteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Add == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "add is required"))
		return
	}
	result, err := h.execute(r, domain.Vote{CardID: r.PathValue("card_id"), UserID: user.ID, Add: *req.Add})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCard(w, r, http.StatusOK, result)
}

func writeCard(w http.ResponseWriter, r *http.Request, status int, result session.Result) {
	if result.Card == nil {
		writeError(w, r, fmt.Errorf("command result carries no card"))
		return
	}
	writeJSON(w, status, cardResponse{
		Version:    result.Version,
		Card:       *result.Card,
		VoterCount: result.Card.VoterCount,
	})
}

func (h *handler) updateStep(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req stepRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cmd := domain.ChangePhase{
		UserID:    user.ID,
		Direction: req.Direction,
		Target:    domain.Phase(strings.TrimSpace(req.Target)),
	}
	result, err := h.execute(r, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Version: result.Version, Phase: result.Phase})
}
