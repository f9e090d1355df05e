package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maestro-dev/maestro/pkg/audit"
	"github.com/maestro-dev/maestro/pkg/config"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Header names, GitHub wire format.
const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
)

// Handler verifies, deduplicates, and enqueues webhook deliveries.
// The HTTP exchange does no pipeline work: validate, snapshot,
// dispatch, 202.
type Handler struct {
	cfg      config.WebhookConfig
	jobs     *Store
	pipeline *Pipeline
	audit    *audit.Logger
	logger   *slog.Logger
}

func NewHandler(cfg config.WebhookConfig, jobs *Store, pipeline *Pipeline, auditLog *audit.Logger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		jobs:     jobs,
		pipeline: pipeline,
		audit:    auditLog,
		logger:   logger.With("component", "webhook"),
	}
}

// ServeHTTP handles POST /webhooks/{provider}. Responses: 202 on
// enqueue or duplicate, 401 on bad signature, 400 on malformed
// payload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.cfg.Secret, body, r.Header.Get(headerSignature)) {
		h.audit.Record(audit.Entry{
			Actor:   r.RemoteAddr,
			Action:  "webhook:signature_rejected",
			Target:  r.URL.Path,
			Outcome: audit.OutcomeDenied,
		})
		h.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := parseEvent(r.Header.Get(headerEvent), r.Header.Get(headerDelivery), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seen, err := h.jobs.Seen(event.DeliveryID, h.cfg.IdempotencyWindow)
	if err != nil {
		h.logger.Error("idempotency check failed", "delivery_id", event.DeliveryID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if seen {
		// Acknowledged but not re-dispatched.
		h.logger.Info("duplicate delivery acknowledged", "delivery_id", event.DeliveryID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	job := &Job{
		DeliveryID: event.DeliveryID,
		EventKind:  event.Kind,
		Repository: event.Repository,
		Principal:  event.Principal,
		Status:     StatusReceived,
		CreatedAt:  time.Now(),
	}
	if err := h.jobs.Save(job); err != nil {
		h.logger.Error("failed to snapshot job", "delivery_id", event.DeliveryID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.audit.Record(audit.Entry{
		Actor:   event.Principal,
		Action:  "webhook:received",
		Target:  event.Repository,
		Outcome: audit.OutcomeAllowed,
		Detail:  map[string]any{"event": event.Kind, "delivery_id": event.DeliveryID},
	})

	go h.pipeline.Run(job, event)
	w.WriteHeader(http.StatusAccepted)
}

// githubEvent is the subset of the delivery payload the pipeline
// needs.
type githubEvent struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	PullRequest *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"pull_request"`
	Issue *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	HeadCommit *struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

func parseEvent(kind, deliveryID string, body []byte) (*Event, error) {
	if deliveryID == "" {
		return nil, errMissingDelivery
	}
	switch kind {
	case "pull_request", "issues", "push":
	default:
		return nil, errUnsupportedEvent
	}

	var payload githubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errMalformedPayload
	}

	event := &Event{
		Kind:       kind,
		DeliveryID: deliveryID,
		Repository: payload.Repository.FullName,
		CloneURL:   payload.Repository.CloneURL,
		Principal:  payload.Sender.Login,
	}
	switch {
	case payload.PullRequest != nil:
		event.Number = payload.PullRequest.Number
		event.Title = payload.PullRequest.Title
		event.Body = payload.PullRequest.Body
	case payload.Issue != nil:
		event.Number = payload.Issue.Number
		event.Title = payload.Issue.Title
		event.Body = payload.Issue.Body
	case payload.HeadCommit != nil:
		event.Title = payload.HeadCommit.Message
	}
	return event, nil
}

var (
	errMissingDelivery  = &parseError{"missing delivery identifier"}
	errUnsupportedEvent = &parseError{"unsupported event kind"}
	errMalformedPayload = &parseError{"malformed payload"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
