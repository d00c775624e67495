package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LeventeLantos/whatsapp-blast/internal/client"
	"github.com/LeventeLantos/whatsapp-blast/internal/config"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	var rec *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec = w.(*statusRecorder)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
	if rec.status != http.StatusCreated {
		t.Fatalf("expected recorded status %d, got %d", http.StatusCreated, rec.status)
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("expected error hijacking a recorder")
	}
}

func TestNewSendClient(t *testing.T) {
	cfg := &config.Config{
		Transport: config.TransportConfig{Kind: config.TransportWebhook, WebhookURL: "http://localhost", WebhookRatePerSec: 1},
	}
	sc, err := newSendClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := sc.(*client.WebhookClient); !ok {
		t.Fatalf("expected webhook client, got %T", sc)
	}

	cfg.Transport.Kind = config.TransportSimulated
	cfg.Send.SuccessPercent = 100
	sc, err = newSendClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := sc.(*client.SimulatedClient); !ok {
		t.Fatalf("expected simulated client, got %T", sc)
	}

	cfg.Transport.Kind = "smoke-signals"
	if _, err := newSendClient(cfg); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func setFastSimulation(t *testing.T) {
	t.Helper()

	t.Setenv("TRANSPORT", "simulated")
	t.Setenv("SEND_LATENCY_MIN_MS", "0")
	t.Setenv("SEND_LATENCY_MAX_MS", "0")
	t.Setenv("SEND_SUCCESS_PERCENT", "100")
	t.Setenv("SEND_PACING_MS", "0")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("TEMPLATES_FILE", "")
}

func TestRunSend_WritesResults(t *testing.T) {
	setFastSimulation(t)
	t.Setenv("WA_BEARER_TOKEN", "EAAtesttoken")
	t.Setenv("WA_PHONE_ID", "123456789012345")
	t.Setenv("WA_BUSINESS_ACCOUNT_ID", "987654321098765")

	dir := t.TempDir()
	contactsPath := filepath.Join(dir, "contacts.csv")
	if err := os.WriteFile(contactsPath, []byte("15551230001,Alice\n15551230002,Bob\n"), 0o600); err != nil {
		t.Fatalf("write contacts: %v", err)
	}
	outPath := filepath.Join(dir, "results.csv")

	var out bytes.Buffer
	err := runSend(context.Background(), sendOptions{
		contactsFile: contactsPath,
		templateID:   "welcome_001",
		outFile:      outPath,
	}, &out)
	if err != nil {
		t.Fatalf("runSend error: %v\noutput:\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "sent=2 failed=0 pending=0") {
		t.Fatalf("unexpected summary:\n%s", out.String())
	}
	if strings.Count(out.String(), "sending ") != 2 {
		t.Fatalf("expected one sending line per contact:\n%s", out.String())
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", string(b))
	}
	if !strings.HasPrefix(lines[1], "15551230001,sent,") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
}

func TestRunSend_RejectsInvalidCredentials(t *testing.T) {
	setFastSimulation(t)
	t.Setenv("WA_BEARER_TOKEN", "")
	t.Setenv("WA_PHONE_ID", "")
	t.Setenv("WA_BUSINESS_ACCOUNT_ID", "")

	var out bytes.Buffer
	err := runSend(context.Background(), sendOptions{contactsFile: "unused.txt", message: "hi"}, &out)
	if err == nil {
		t.Fatalf("expected credentials error")
	}
	if !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestRunSend_MissingContactsFile(t *testing.T) {
	setFastSimulation(t)
	t.Setenv("WA_BEARER_TOKEN", "EAAtesttoken")
	t.Setenv("WA_PHONE_ID", "123456789012345")
	t.Setenv("WA_BUSINESS_ACCOUNT_ID", "987654321098765")

	var out bytes.Buffer
	err := runSend(context.Background(), sendOptions{contactsFile: filepath.Join(t.TempDir(), "nope.txt"), message: "hi"}, &out)
	if err == nil || !strings.Contains(err.Error(), "read contacts") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestRootCmd_SendFlagValidation(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"send", "--contacts", "x.txt", "--template", "a", "--message", "b"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for mutually exclusive flags")
	}
}
