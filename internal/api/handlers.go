package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/whatsapp-blast/internal/campaign"
	"github.com/LeventeLantos/whatsapp-blast/internal/contacts"
	"github.com/LeventeLantos/whatsapp-blast/internal/model"
	"github.com/LeventeLantos/whatsapp-blast/internal/repo"
	"github.com/LeventeLantos/whatsapp-blast/internal/runner"
	"github.com/LeventeLantos/whatsapp-blast/internal/service"
	"github.com/LeventeLantos/whatsapp-blast/internal/templates"
)

const maxImportBytes = 10 << 20

type Handler struct {
	campaign *campaign.Campaign
	results  repo.ResultRepository
}

// NewHandler wires the API to a campaign. results may be nil when no result
// store is configured.
func NewHandler(c *campaign.Campaign, results repo.ResultRepository) *Handler {
	return &Handler{campaign: c, results: results}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.campaign.SetCredentials(creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       err.Error(),
			"credentials": h.campaign.Credentials().Masked(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": h.campaign.Credentials().Masked()})
}

func (h *Handler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"credentials": h.campaign.Credentials().Masked()})
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.campaign.Catalog().List()})
}

func (h *Handler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	var (
		n   int
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		n, err = h.campaign.ImportCSV(body)
	} else {
		var raw []byte
		raw, err = io.ReadAll(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		n, err = h.campaign.ImportText(string(raw))
	}
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"imported": n})
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StatusAll
	}
	if status != model.StatusAll && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter: "+string(status))
		return
	}

	items := []model.Contact{}
	for c := range h.campaign.Contacts(status) {
		items = append(items, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDParam(w, r, "id")
	if !ok {
		return
	}
	c, err := h.campaign.Contact(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) JobContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDParam(w, r, "contactId")
	if !ok {
		return
	}
	c, err := h.campaign.JobContact(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func contactIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return 0, false
	}
	return id, true
}

func (h *Handler) ContactCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": h.campaign.Counts(),
		"total":  h.campaign.Len(),
	})
}

func (h *Handler) ExportContacts(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	name, err := h.campaign.Export(&buf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) ClearContacts(w http.ResponseWriter, r *http.Request) {
	if err := h.campaign.ClearContacts(); err != nil {
		writeCampaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startJobRequest struct {
	TemplateID string `json:"templateId"`
	Content    string `json:"content"`
}

func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var msg model.Message
	if req.Content != "" {
		msg = templates.NewMessage(req.Content)
		msg.TemplateID = req.TemplateID
	} else {
		var err error
		if msg, err = h.campaign.ComposeMessage(req.TemplateID, ""); err != nil {
			writeCampaignError(w, err)
			return
		}
	}

	job, err := h.campaign.SendAll(msg)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) CurrentJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.campaign.CurrentJob()
	if !ok {
		writeError(w, http.StatusNotFound, campaign.ErrNoJob.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request) {
	if err := h.campaign.Pause(); err != nil {
		writeCampaignError(w, err)
		return
	}
	h.CurrentJob(w, r)
}

func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	if err := h.campaign.Resume(); err != nil {
		writeCampaignError(w, err)
		return
	}
	h.CurrentJob(w, r)
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	job, err := h.campaign.RetryFailed()
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) JobResults(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	if status == model.StatusAll {
		status = ""
	}
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter: "+string(status))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.results.ListResults(r.Context(), chi.URLParam(r, "id"), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeCampaignError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrNoJob),
		errors.Is(err, contacts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrJobActive),
		errors.Is(err, campaign.ErrNoFailed),
		errors.Is(err, runner.ErrNotRunning),
		errors.Is(err, runner.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrInvalidCredentials),
		errors.Is(err, campaign.ErrNoContacts),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, templates.ErrUnknownTemplate),
		errors.Is(err, contacts.ErrNoValidNumbers):
		return http.StatusBadRequest
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
