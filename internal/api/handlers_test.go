package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LeventeLantos/whatsapp-blast/internal/campaign"
	"github.com/LeventeLantos/whatsapp-blast/internal/client"
	"github.com/LeventeLantos/whatsapp-blast/internal/model"
	"github.com/LeventeLantos/whatsapp-blast/internal/repo"
	"github.com/LeventeLantos/whatsapp-blast/internal/service"
)

const credsJSON = `{"bearerToken":"EAAsecret1234","phoneId":"123456789012345","businessAccountId":"987654321098765"}`

type fakeClient struct {
	gate chan struct{}

	mu   sync.Mutex
	fail map[string]client.Reason
}

func (f *fakeClient) Send(_ context.Context, phoneNumber, _ string, _ model.Credentials) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	r, ok := f.fail[phoneNumber]
	f.mu.Unlock()
	if ok {
		return "", client.Failure(r)
	}
	return "wamid." + phoneNumber, nil
}

type fakeResults struct {
	gotJobID  string
	gotStatus model.Status
	gotLimit  int
	gotOffset int

	items []model.Contact
	err   error
}

var _ repo.ResultRepository = (*fakeResults)(nil)

func (f *fakeResults) RecordResult(context.Context, string, model.Contact) error {
	return nil
}

func (f *fakeResults) ListResults(_ context.Context, jobID string, status model.Status, limit, offset int) ([]model.Contact, error) {
	f.gotJobID = jobID
	f.gotStatus = status
	f.gotLimit = limit
	f.gotOffset = offset
	return f.items, f.err
}

func newTestServer(t *testing.T, sc service.SendClient, results repo.ResultRepository) (*campaign.Campaign, http.Handler) {
	t.Helper()

	sender, err := service.NewSender(sc, service.Options{})
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := campaign.New(ctx, campaign.Deps{Sender: sender, ContentMax: 4096})
	if err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}

	return c, Router(NewHandler(c, results))
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%q", want, rr.Code, rr.Body.String())
	}
}

func setup(t *testing.T, h http.Handler, numbers string) {
	t.Helper()

	expectStatus(t, do(t, h, http.MethodPut, "/v1/credentials", "application/json", credsJSON), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPost, "/v1/contacts/import", "text/plain", numbers), http.StatusOK)
}

func waitDone(t *testing.T, c *campaign.Campaign) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("job did not complete: %v", err)
	}
}

func TestHealth(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodGet, "/v1/health", "", "")
	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestCredentials(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodPut, "/v1/credentials", "application/json", `{"bearerToken":"nope"}`)
	expectStatus(t, rr, http.StatusBadRequest)
	body := decodeJSON(t, rr)
	creds := body["credentials"].(map[string]any)
	if creds["valid"] != false {
		t.Fatalf("expected valid=false, got %v", creds)
	}
	if !strings.Contains(body["error"].(string), "EAA") {
		t.Fatalf("expected token format error, got %v", body["error"])
	}

	expectStatus(t, do(t, mux, http.MethodPut, "/v1/credentials", "application/json", credsJSON), http.StatusOK)

	rr = do(t, mux, http.MethodGet, "/v1/credentials", "", "")
	expectStatus(t, rr, http.StatusOK)
	creds = decodeJSON(t, rr)["credentials"].(map[string]any)
	if creds["valid"] != true {
		t.Fatalf("expected valid=true, got %v", creds)
	}
	if creds["bearerToken"] != "*********1234" {
		t.Fatalf("expected masked token, got %v", creds["bearerToken"])
	}

	expectStatus(t, do(t, mux, http.MethodPut, "/v1/credentials", "application/json", "{"), http.StatusBadRequest)
}

func TestListTemplates(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodGet, "/v1/templates", "", "")
	expectStatus(t, rr, http.StatusOK)

	items, ok := decodeJSON(t, rr)["items"].([]any)
	if !ok || len(items) != 5 {
		t.Fatalf("expected 5 templates, got %v", items)
	}
}

func TestImportAndListContacts(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodPost, "/v1/contacts/import", "text/csv; charset=utf-8", "\"15551230001\",\"Alice\"\n15551230002,Bob\n")
	expectStatus(t, rr, http.StatusOK)
	if n := decodeJSON(t, rr)["imported"]; n != float64(2) {
		t.Fatalf("expected imported=2, got %v", n)
	}

	rr = do(t, mux, http.MethodGet, "/v1/contacts", "", "")
	expectStatus(t, rr, http.StatusOK)
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["phoneNumber"] != "15551230001" || first["status"] != "pending" {
		t.Fatalf("unexpected first contact: %v", first)
	}

	rr = do(t, mux, http.MethodGet, "/v1/contacts?status=failed", "", "")
	expectStatus(t, rr, http.StatusOK)
	if items := decodeJSON(t, rr)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected no failed contacts, got %v", items)
	}

	expectStatus(t, do(t, mux, http.MethodGet, "/v1/contacts?status=bogus", "", ""), http.StatusBadRequest)

	rr = do(t, mux, http.MethodGet, "/v1/contacts/counts", "", "")
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["total"] != float64(2) {
		t.Fatalf("expected total=2, got %v", body["total"])
	}
	if counts := body["counts"].(map[string]any); counts["pending"] != float64(2) {
		t.Fatalf("expected 2 pending, got %v", counts)
	}

	expectStatus(t, do(t, mux, http.MethodDelete, "/v1/contacts", "", ""), http.StatusNoContent)
	rr = do(t, mux, http.MethodGet, "/v1/contacts/counts", "", "")
	if decodeJSON(t, rr)["total"] != float64(0) {
		t.Fatalf("expected empty registry after clear")
	}
}

func TestImportContacts_NoValidNumbers(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodPost, "/v1/contacts/import", "text/plain", "hello\n123")
	expectStatus(t, rr, http.StatusBadRequest)
	if !strings.Contains(rr.Body.String(), "no valid phone numbers") {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestStartJob_Preconditions(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"welcome_001"}`)
	expectStatus(t, rr, http.StatusBadRequest)
	if !strings.Contains(rr.Body.String(), "credentials") {
		t.Fatalf("expected credentials error, got %q", rr.Body.String())
	}

	expectStatus(t, do(t, mux, http.MethodPut, "/v1/credentials", "application/json", credsJSON), http.StatusOK)

	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"welcome_001"}`), http.StatusBadRequest)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"nope"}`), http.StatusBadRequest)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{}`), http.StatusBadRequest)
	expectStatus(t, do(t, mux, http.MethodGet, "/v1/jobs/current", "", ""), http.StatusNotFound)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs/current/pause", "", ""), http.StatusNotFound)
}

func TestStartJob_RunsToCompletion(t *testing.T) {
	fc := &fakeClient{fail: map[string]client.Reason{"15551230002": client.ReasonNotRegistered}}
	c, mux := newTestServer(t, fc, nil)
	setup(t, mux, "15551230001\n15551230002\n15551230003")

	rr := do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"content":"Hi {{name}}"}`)
	expectStatus(t, rr, http.StatusAccepted)
	if id, _ := decodeJSON(t, rr)["id"].(string); id == "" {
		t.Fatalf("expected job id in response")
	}
	waitDone(t, c)

	rr = do(t, mux, http.MethodGet, "/v1/jobs/current", "", "")
	expectStatus(t, rr, http.StatusOK)
	if st := decodeJSON(t, rr)["status"]; st != "completed" {
		t.Fatalf("expected completed job, got %v", st)
	}

	rr = do(t, mux, http.MethodGet, "/v1/contacts?status=failed", "", "")
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 failed contact, got %d", len(items))
	}
	if reason := items[0].(map[string]any)["error"]; reason != "Phone number not registered on WhatsApp" {
		t.Fatalf("unexpected failure reason %v", reason)
	}

	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs/current/pause", "", ""), http.StatusConflict)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs/current/resume", "", ""), http.StatusConflict)

	fc.mu.Lock()
	fc.fail = nil
	fc.mu.Unlock()

	rr = do(t, mux, http.MethodPost, "/v1/jobs/retry-failed", "", "")
	expectStatus(t, rr, http.StatusAccepted)
	if list := decodeJSON(t, rr)["contacts"].([]any); len(list) != 1 {
		t.Fatalf("expected retry job over 1 contact, got %d", len(list))
	}
	waitDone(t, c)

	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs/retry-failed", "", ""), http.StatusConflict)
}

func TestStartJob_ConflictWhileRunning(t *testing.T) {
	fc := &fakeClient{gate: make(chan struct{})}
	c, mux := newTestServer(t, fc, nil)
	setup(t, mux, "15551230001")

	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"promo_001"}`), http.StatusAccepted)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"promo_001"}`), http.StatusConflict)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/contacts/import", "text/plain", "15551230009"), http.StatusConflict)
	expectStatus(t, do(t, mux, http.MethodDelete, "/v1/contacts", "", ""), http.StatusConflict)

	close(fc.gate)
	waitDone(t, c)
}

func TestExportContacts(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)
	setup(t, mux, "15551230001")

	rr := do(t, mux, http.MethodGet, "/v1/contacts/export", "", "")
	expectStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "whatsapp-blast-results-") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if !strings.HasPrefix(rr.Body.String(), "Phone Number,Status,Timestamp,Error\n") {
		t.Fatalf("unexpected csv body %q", rr.Body.String())
	}
}

func TestJobResults(t *testing.T) {
	fr := &fakeResults{items: []model.Contact{{ID: 1, PhoneNumber: "15551230001", Status: model.Sent}}}
	_, mux := newTestServer(t, &fakeClient{}, fr)

	rr := do(t, mux, http.MethodGet, "/v1/jobs/abc/results?status=sent&limit=10&offset=5", "", "")
	expectStatus(t, rr, http.StatusOK)
	if fr.gotJobID != "abc" || fr.gotStatus != model.Sent || fr.gotLimit != 10 || fr.gotOffset != 5 {
		t.Fatalf("unexpected repo args: %+v", fr)
	}
	if items := decodeJSON(t, rr)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	rr = do(t, mux, http.MethodGet, "/v1/jobs/abc/results?limit=abc", "", "")
	expectStatus(t, rr, http.StatusOK)
	if fr.gotStatus != "" || fr.gotLimit != 50 || fr.gotOffset != 0 {
		t.Fatalf("expected defaults, got %+v", fr)
	}

	fr.err = errors.New("db down")
	rr = do(t, mux, http.MethodGet, "/v1/jobs/abc/results", "", "")
	expectStatus(t, rr, http.StatusInternalServerError)
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	if msg := decodeJSON(t, rr)["error"]; msg != "db down" {
		t.Fatalf("expected error %q, got %v", "db down", msg)
	}
}

func TestJobResults_DisabledWithoutStore(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	expectStatus(t, do(t, mux, http.MethodGet, "/v1/jobs/abc/results", "", ""), http.StatusNotFound)
}

func TestGetContact(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)
	setup(t, mux, "15551230001\n15551230002")

	rr := do(t, mux, http.MethodGet, "/v1/contacts/2", "", "")
	expectStatus(t, rr, http.StatusOK)
	if phone := decodeJSON(t, rr)["phoneNumber"]; phone != "15551230002" {
		t.Fatalf("unexpected contact %v", phone)
	}

	expectStatus(t, do(t, mux, http.MethodGet, "/v1/contacts/9", "", ""), http.StatusNotFound)
	expectStatus(t, do(t, mux, http.MethodGet, "/v1/contacts/abc", "", ""), http.StatusBadRequest)
}

func TestJobContact(t *testing.T) {
	c, mux := newTestServer(t, &fakeClient{}, nil)
	setup(t, mux, "15551230001")

	rr := do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"content":"hi"}`)
	expectStatus(t, rr, http.StatusAccepted)
	id := decodeJSON(t, rr)["id"].(string)
	waitDone(t, c)

	rr = do(t, mux, http.MethodGet, "/v1/jobs/"+id+"/contacts/1", "", "")
	expectStatus(t, rr, http.StatusOK)
	if st := decodeJSON(t, rr)["status"]; st != "sent" {
		t.Fatalf("expected sent, got %v", st)
	}

	expectStatus(t, do(t, mux, http.MethodGet, "/v1/jobs/"+id+"/contacts/7", "", ""), http.StatusNotFound)
	expectStatus(t, do(t, mux, http.MethodGet, "/v1/jobs/other/contacts/1", "", ""), http.StatusNotFound)
}

func TestEventsStream(t *testing.T) {
	c, mux := newTestServer(t, &fakeClient{}, nil)
	setup(t, mux, "15551230001\n15551230002")

	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the handler subscribes after the upgrade completes
	time.Sleep(50 * time.Millisecond)
	expectStatus(t, do(t, mux, http.MethodPost, "/v1/jobs", "application/json", `{"templateId":"welcome_001"}`), http.StatusAccepted)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []model.Event
	for {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (got %d events)", err, len(got))
		}
		got = append(got, ev)
		if ev.Type == model.EventJobCompleted {
			break
		}
	}
	waitDone(t, c)

	if got[0].Type != model.EventJobStatus || got[0].Status != model.JobRunning {
		t.Fatalf("expected running status first, got %+v", got[0])
	}
	var updates int
	for _, ev := range got {
		if ev.Type == model.EventContactUpdated {
			updates++
		}
	}
	if updates != 4 {
		t.Fatalf("expected 4 contact updates, got %d", updates)
	}
}

func TestRouterRoot(t *testing.T) {
	_, mux := newTestServer(t, &fakeClient{}, nil)

	rr := do(t, mux, http.MethodGet, "/", "", "")
	expectStatus(t, rr, http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != "whatsapp-blast" {
		t.Fatalf("expected body %q, got %q", "whatsapp-blast", got)
	}
}
