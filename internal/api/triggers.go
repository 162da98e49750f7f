package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// IdempotencyHeader lets callers pick the trigger event id, so a retried
// delivery maps onto the same execution.
const IdempotencyHeader = "Idempotency-Key"

// Context keys seeded by the webhook endpoints.
const (
	GoogleFormKey = "googleForm"
	StripeKey     = "stripe"
)

type executeRequest struct {
	InitialData map[string]any `json:"initialData,omitempty"`
}

type triggerResponse struct {
	TriggerEventID string `json:"triggerEventId"`
	Accepted       bool   `json:"accepted"`
}

// handleExecute starts a run of a workflow from its manual trigger.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := readJSON(r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	s.dispatch(w, r, r.PathValue("id"), body.InitialData)
}

// googleFormSubmission is what the form's Apps Script posts.
type googleFormSubmission struct {
	FormID          string         `json:"formId"`
	FormTitle       string         `json:"formTitle"`
	ResponseID      string         `json:"responseId"`
	Timestamp       string         `json:"timestamp"`
	RespondentEmail string         `json:"respondentEmail"`
	Responses       map[string]any `json:"responses"`
}

// handleGoogleForm seeds the run with the submission under "googleForm".
func (s *Server) handleGoogleForm(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := readJSON(r, &raw); err != nil {
		writeFlowError(w, err)
		return
	}
	var sub googleFormSubmission
	if err := remarshal(raw, &sub); err != nil {
		writeFlowError(w, err)
		return
	}
	if sub.Responses == nil {
		sub.Responses = map[string]any{}
	}

	s.dispatch(w, r, r.URL.Query().Get("workflowId"), map[string]any{
		GoogleFormKey: map[string]any{
			"formId":          sub.FormID,
			"formTitle":       sub.FormTitle,
			"responseId":      sub.ResponseID,
			"timestamp":       sub.Timestamp,
			"respondentEmail": sub.RespondentEmail,
			"responses":       sub.Responses,
			"raw":             raw,
		},
	})
}

// stripeEvent is the subset of a Stripe webhook event the trigger exposes.
type stripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// handleStripe seeds the run with the event under "stripe".
func (s *Server) handleStripe(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := readJSON(r, &raw); err != nil {
		writeFlowError(w, err)
		return
	}
	var ev stripeEvent
	if err := remarshal(raw, &ev); err != nil {
		writeFlowError(w, err)
		return
	}

	seed := map[string]any{
		"eventId":   ev.ID,
		"eventType": ev.Type,
		"timestamp": ev.Created,
		"livemode":  ev.Livemode,
		"raw":       raw,
	}
	if obj := ev.Data.Object; obj != nil {
		if amount, ok := obj["amount"]; ok {
			seed["amount"] = amount
		}
		if currency, ok := obj["currency"]; ok {
			seed["currency"] = currency
		}
	}

	// Stripe retries deliveries with the same event id.
	if r.Header.Get(IdempotencyHeader) == "" && ev.ID != "" {
		r.Header.Set(IdempotencyHeader, "stripe-"+ev.ID)
	}
	s.dispatch(w, r, r.URL.Query().Get("workflowId"), map[string]any{StripeKey: seed})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, workflowID string, initial map[string]any) {
	ctx := r.Context()
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	if _, err := s.deps.Store.GetWorkflow(ctx, workflowID); err != nil {
		writeFlowError(w, err)
		return
	}

	triggerID := r.Header.Get(IdempotencyHeader)
	if triggerID == "" {
		triggerID = uuid.New().String()
	}

	accepted, err := s.deps.Dispatcher.Dispatch(ctx, schema.TriggerEvent{
		WorkflowID:     workflowID,
		TriggerEventID: triggerID,
		InitialData:    initial,
	})
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "dispatch failed",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		writeFlowError(w, err)
		return
	}

	s.deps.Logger.InfoContext(ctx, "execution dispatched",
		slog.String("workflow_id", workflowID),
		slog.String("trigger_event_id", triggerID),
		slog.Bool("accepted", accepted),
	)
	writeJSON(w, http.StatusAccepted, triggerResponse{TriggerEventID: triggerID, Accepted: accepted})
}

func remarshal(in map[string]any, out any) error {
	raw, err := xjson.Marshal(in)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "cannot encode payload").WithCause(err)
	}
	if err := xjson.Unmarshal(raw, out); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "unexpected webhook payload").WithCause(err)
	}
	return nil
}
