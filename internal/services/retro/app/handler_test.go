package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/errors/i18n"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/identity"
	"github.com/louisbranch/retroboard/internal/services/retro/registry"
	"github.com/louisbranch/retroboard/internal/services/retro/session"
)

type testAPI struct {
	t        *testing.T
	srv      *httptest.Server
	registry *registry.Registry
}

type testErrorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func newTestAPI(t *testing.T, policy domain.Policy) *testAPI {
	t.Helper()
	reg := registry.New(session.Config{Policy: policy})
	t.Cleanup(reg.Close)
	srv := httptest.NewServer(NewHandler(reg, identity.NewResolver(identity.Config{})))
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv, registry: reg}
}

// do sends a request as userID (no identity headers when empty) and decodes
// the JSON response into out when out is non-nil.
func (a *testAPI) do(method, path, userID string, body any, out any, headers ...string) *http.Response {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			reader = strings.NewReader(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				a.t.Fatalf("encode body: %v", err)
			}
			reader = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		a.t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(identity.HeaderUserID, userID)
		req.Header.Set(identity.HeaderUsername, strings.ToUpper(userID[:1])+userID[1:])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			a.t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func (a *testAPI) expectError(method, path, userID string, body any, status int, code string) testErrorResponse {
	a.t.Helper()
	var got testErrorResponse
	resp := a.do(method, path, userID, body, &got)
	if resp.StatusCode != status {
		a.t.Fatalf("%s %s status = %d, want %d (%+v)", method, path, resp.StatusCode, status, got)
	}
	if got.Error.Code != code {
		a.t.Fatalf("%s %s code = %q, want %q", method, path, got.Error.Code, code)
	}
	return got
}

func (a *testAPI) createRetro(userID, name string) domain.RetroView {
	a.t.Helper()
	var view domain.RetroView
	resp := a.do(http.MethodPost, "/v1/retros", userID, map[string]any{"name": name}, &view)
	if resp.StatusCode != http.StatusCreated {
		a.t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	return view
}

func (a *testAPI) getRetro(retroID, userID string) domain.RetroView {
	a.t.Helper()
	var view domain.RetroView
	resp := a.do(http.MethodGet, "/v1/retros/"+retroID, userID, nil, &view)
	if resp.StatusCode != http.StatusOK {
		a.t.Fatalf("get status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	return view
}

func TestHealthUp(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	resp := api.do(http.MethodGet, "/up", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestCreateRetroRequiresUser(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	got := api.expectError(http.MethodPost, "/v1/retros", "", map[string]any{"name": "Sprint 1"}, http.StatusUnauthorized, "UNAUTHENTICATED")
	if got.Error.Message == "" {
		t.Fatal("expected localized message")
	}
}

func TestCreateAndGetRetro(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	var view domain.RetroView
	resp := api.do(http.MethodPost, "/v1/retros", "alice", map[string]any{"name": "Sprint 1"}, &view)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if got := resp.Header.Get("Location"); got != "/v1/retros/"+view.ID {
		t.Fatalf("location = %q", got)
	}
	if view.Name != "Sprint 1" || view.CreatorID != "alice" || view.Phase != domain.PhaseWriting {
		t.Fatalf("view = %+v", view)
	}
	if len(view.Lanes) != 3 {
		t.Fatalf("lanes = %d, want 3", len(view.Lanes))
	}
	if len(view.Participants) != 1 || view.Participants[0].Username != "Alice" {
		t.Fatalf("participants = %+v, want creator only", view.Participants)
	}

	got := api.getRetro(view.ID, "bob")
	if got.ID != view.ID {
		t.Fatalf("get id = %q, want %q", got.ID, view.ID)
	}
}

func TestCreateRetroValidation(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	api.expectError(http.MethodPost, "/v1/retros", "alice", map[string]any{"name": "  "}, http.StatusBadRequest, "RETRO_NAME_EMPTY")
	api.expectError(http.MethodPost, "/v1/retros", "alice", `{"name":`, http.StatusBadRequest, "INVALID_ARGUMENT")
	api.expectError(http.MethodPost, "/v1/retros", "alice", `{"name":"x","owner":"y"}`, http.StatusBadRequest, "INVALID_ARGUMENT")
	api.expectError(http.MethodPost, "/v1/retros", "alice", map[string]any{"name": "x", "lanes": []string{"A", "a"}}, http.StatusBadRequest, "RETRO_LANE_TITLE_INVALID")
}

func TestRetroFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	retro := api.createRetro("alice", "Sprint 1")
	base := "/v1/retros/" + retro.ID
	goodLane := retro.Lanes[0].ID

	var roster rosterResponse
	api.do(http.MethodPost, base+"/participants", "bob", nil, &roster)
	if len(roster.Participants) != 2 {
		t.Fatalf("roster = %+v, want alice and bob", roster.Participants)
	}

	var added cardResponse
	resp := api.do(http.MethodPost, base+"/cards", "alice", map[string]any{"lane_id": goodLane, "text": "  Shipped on time  "}, &added)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add card status = %d", resp.StatusCode)
	}
	if added.Card.Text != "Shipped on time" || added.Card.Redacted {
		t.Fatalf("creator card = %+v", added.Card)
	}

	bobView := api.getRetro(retro.ID, "bob")
	if card := bobView.Lanes[0].Cards[0]; !card.Redacted || card.Text != "" {
		t.Fatalf("bob sees %+v during writing, want redacted", card)
	}

	var step stepResponse
	api.do(http.MethodPost, base+"/step", "bob", map[string]any{"direction": 1}, &step)
	if step.Phase != domain.PhaseGrouping {
		t.Fatalf("phase = %s, want grouping", step.Phase)
	}
	bobView = api.getRetro(retro.ID, "bob")
	if card := bobView.Lanes[0].Cards[0]; card.Redacted || card.Text != "Shipped on time" {
		t.Fatalf("bob sees %+v after writing, want revealed", card)
	}

	api.expectError(http.MethodPut, base+"/cards/"+added.Card.ID+"/vote", "bob", map[string]any{"add": true}, http.StatusConflict, "VOTING_CLOSED")

	api.do(http.MethodPost, base+"/step", "alice", map[string]any{"target": "voting"}, &step)
	if step.Phase != domain.PhaseVoting {
		t.Fatalf("phase = %s, want voting", step.Phase)
	}

	var voted cardResponse
	for range 2 {
		api.do(http.MethodPut, base+"/cards/"+added.Card.ID+"/vote", "bob", map[string]any{"add": true}, &voted)
		if voted.VoterCount != 1 || !voted.Card.VotedByViewer {
			t.Fatalf("vote = %+v, want one voter", voted)
		}
	}
	api.do(http.MethodPut, base+"/cards/"+added.Card.ID+"/vote", "bob", map[string]any{"add": false}, &voted)
	if voted.VoterCount != 0 {
		t.Fatalf("voter_count = %d, want 0", voted.VoterCount)
	}
	api.expectError(http.MethodPut, base+"/cards/"+added.Card.ID+"/vote", "bob", map[string]any{}, http.StatusBadRequest, "INVALID_ARGUMENT")

	api.do(http.MethodDelete, base+"/participants/me", "bob", nil, &roster)
	if len(roster.Participants) != 1 || roster.Participants[0].UserID != "alice" {
		t.Fatalf("roster after leave = %+v, want alice", roster.Participants)
	}
}

func TestEditCardOverHTTP(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	retro := api.createRetro("alice", "Sprint 1")
	base := "/v1/retros/" + retro.ID

	var added cardResponse
	api.do(http.MethodPost, base+"/cards", "alice", map[string]any{"lane_id": retro.Lanes[1].ID, "text": "Flaky CI"}, &added)

	var edited cardResponse
	resp := api.do(http.MethodPatch, base+"/cards/"+added.Card.ID, "alice", map[string]any{"text": "Flaky CI pipeline"}, &edited)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	if edited.Card.Text != "Flaky CI pipeline" || edited.Card.ID != added.Card.ID {
		t.Fatalf("edited = %+v", edited.Card)
	}
	api.expectError(http.MethodPatch, base+"/cards/"+added.Card.ID, "bob", map[string]any{"text": "mine now"}, http.StatusForbidden, "CARD_NOT_OWNED")
	api.expectError(http.MethodPatch, base+"/cards/missing", "alice", map[string]any{"text": "x"}, http.StatusNotFound, "CARD_NOT_FOUND")
	api.expectError(http.MethodPost, base+"/cards", "alice", map[string]any{"lane_id": "missing", "text": "x"}, http.StatusNotFound, "LANE_NOT_FOUND")
}

func TestStepPolicyOverHTTP(t *testing.T) {
	api := newTestAPI(t, domain.Policy{PhaseControl: domain.PhaseControlCreator, VoteOutsideVoting: domain.VoteOutsideVotingReject})
	retro := api.createRetro("alice", "Sprint 1")
	base := "/v1/retros/" + retro.ID

	api.expectError(http.MethodPost, base+"/step", "bob", map[string]any{"direction": 1}, http.StatusForbidden, "PHASE_CHANGE_FORBIDDEN")
	api.expectError(http.MethodPost, base+"/step", "alice", map[string]any{"direction": -1}, http.StatusConflict, "PHASE_TRANSITION_INVALID")
	api.expectError(http.MethodPost, base+"/step", "alice", map[string]any{"target": "reviewing"}, http.StatusConflict, "PHASE_TRANSITION_INVALID")
	api.expectError(http.MethodPost, base+"/step", "alice", map[string]any{"target": "done"}, http.StatusBadRequest, "PHASE_INVALID")
}

func TestErrorMessagesAreLocalized(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	var got testErrorResponse
	resp := api.do(http.MethodGet, "/v1/retros/missing", "alice", nil, &got, "Accept-Language", "pt-BR,pt;q=0.9")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if got := resp.Header.Get("Content-Language"); got != "pt-BR" {
		t.Fatalf("content-language = %q, want pt-BR", got)
	}
	want := i18n.GetCatalog("pt-BR").Format("RETRO_NOT_FOUND", map[string]string{"RetroID": "missing"})
	if got.Error.Message != want {
		t.Fatalf("message = %q, want %q", got.Error.Message, want)
	}
	if got.Error.Retryable {
		t.Fatal("not found must not be retryable")
	}
}

func TestContextErrorsAreNotRetryable(t *testing.T) {
	for _, err := range []error{
		context.DeadlineExceeded,
		fmt.Errorf("execute: %w", context.Canceled),
		apperrors.Wrap(apperrors.CodeCommandTimeout, "add_card was not applied", context.DeadlineExceeded),
	} {
		body := errorBodyFor(err, i18n.BaseLocale)
		if body.Code != string(apperrors.CodeCommandTimeout) || body.Retryable {
			t.Fatalf("errorBodyFor(%v) = %+v, want non-retryable COMMAND_TIMEOUT", err, body)
		}
		if status := apperrors.Code(body.Code).HTTPStatus(); status != http.StatusGatewayTimeout {
			t.Fatalf("status = %d, want %d", status, http.StatusGatewayTimeout)
		}
	}
}

func TestListRetrosOverHTTP(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	first := api.createRetro("alice", "Sprint 1")
	second := api.createRetro("bob", "Sprint 2")

	var page listRetrosResponse
	api.do(http.MethodGet, "/v1/retros?page_size=1", "alice", nil, &page)
	if page.TotalSize != 2 || len(page.Retros) != 1 || page.NextPageToken == "" {
		t.Fatalf("first page = %+v", page)
	}

	var next listRetrosResponse
	api.do(http.MethodGet, "/v1/retros?page_size=1&page_token="+page.NextPageToken, "alice", nil, &next)
	if len(next.Retros) != 1 || next.NextPageToken != "" {
		t.Fatalf("second page = %+v", next)
	}
	seen := map[string]bool{page.Retros[0].ID: true, next.Retros[0].ID: true}
	if !seen[first.ID] || !seen[second.ID] {
		t.Fatalf("pages = [%s %s], want both retros", page.Retros[0].ID, next.Retros[0].ID)
	}

	var filtered listRetrosResponse
	api.do(http.MethodGet, `/v1/retros?filter=creator_id%20%3D%20%22bob%22`, "alice", nil, &filtered)
	if len(filtered.Retros) != 1 || filtered.Retros[0].ID != second.ID {
		t.Fatalf("filtered = %+v, want only bob's retro", filtered)
	}

	api.expectError(http.MethodGet, "/v1/retros?page_size=many", "alice", nil, http.StatusBadRequest, "INVALID_ARGUMENT")
	api.expectError(http.MethodGet, "/v1/retros?page_token=bogus", "alice", nil, http.StatusBadRequest, "INVALID_ARGUMENT")
}

func TestListRetrosEmpty(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	var raw map[string]any
	api.do(http.MethodGet, "/v1/retros", "alice", nil, &raw)
	retros, ok := raw["retros"].([]any)
	if !ok || len(retros) != 0 {
		t.Fatalf("retros = %#v, want empty array", raw["retros"])
	}
}

func TestClosedRegistryIsUnavailable(t *testing.T) {
	api := newTestAPI(t, domain.DefaultPolicy())
	retro := api.createRetro("alice", "Sprint 1")
	api.registry.Close()
	api.expectError(http.MethodPost, "/v1/retros", "alice", map[string]any{"name": "Sprint 2"}, http.StatusServiceUnavailable, "SESSION_CLOSED")
	api.expectError(http.MethodGet, "/v1/retros/"+retro.ID, "alice", nil, http.StatusNotFound, "RETRO_NOT_FOUND")
}
