package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/flow"
	"github.com/BTreeMap/SymptomPipe/internal/models"
	"github.com/BTreeMap/SymptomPipe/internal/wizard"
)

// flowSummary is the list view of a flow.
type flowSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Steps int    `json:"steps"`
}

// decodeJSON reads a JSON body into dst. It writes the error response itself
// and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, handler string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Warn(handler+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, handler string, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, wizard.ErrSessionNotFound), errors.Is(err, models.ErrUnknownFlow):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrEmptyFlowID),
		errors.Is(err, models.ErrEmptyParticipantID),
		errors.Is(err, models.ErrParticipantIDTooLong),
		errors.Is(err, models.ErrInvalidStep),
		errors.Is(err, flow.ErrInvalidInput),
		errors.Is(err, flow.ErrFieldNotFound),
		errors.Is(err, flow.ErrFieldUnavailable):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, flow.ErrSaveInProgress):
		status, message = http.StatusConflict, err.Error()
	}
	if status == http.StatusInternalServerError {
		slog.Error(handler+": request failed", "error", err)
	} else {
		slog.Debug(handler+": request rejected", "status", status, "error", err)
	}
	writeJSONResponse(w, status, models.Error(message))
}

func invalidStep(w http.ResponseWriter, res flow.ValidationResult, view wizard.View) {
	step := res.StepIndex
	if step == 0 {
		step = view.State.CurrentStep
	}
	writeJSONResponse(w, http.StatusUnprocessableEntity, models.Invalid(fmt.Sprintf("Step %d needs attention", step), view))
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	flows := s.catalog.Flows()
	out := make([]flowSummary, 0, len(flows))
	for _, f := range flows {
		out = append(out, flowSummary{ID: f.ID, Title: f.Title, Steps: len(f.Steps)})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.catalog.Flow(models.FlowID(r.PathValue("id")))
	if err != nil {
		writeError(w, "Server.getFlowHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(cfg))
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if !decodeJSON(w, r, &req, "Server.startSessionHandler") {
		return
	}
	view, err := s.wizards.Start(r.Context(), req)
	if err != nil {
		writeError(w, "Server.startSessionHandler", err)
		return
	}
	slog.Info("Server.startSessionHandler: session started", "sessionID", view.SessionID, "flowID", view.FlowID)
	writeJSONResponse(w, http.StatusCreated, models.Success(view))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.wizards.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Server.getSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) updateFieldHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FieldUpdateRequest
	if !decodeJSON(w, r, &req, "Server.updateFieldHandler") {
		return
	}
	view, err := s.wizards.Apply(r.Context(), r.PathValue("id"), r.PathValue("field"), req.Value)
	if err != nil {
		writeError(w, "Server.updateFieldHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) nextStepHandler(w http.ResponseWriter, r *http.Request) {
	view, res, err := s.wizards.Next(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Server.nextStepHandler", err)
		return
	}
	if !res.IsValid {
		invalidStep(w, res, view)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) previousStepHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.wizards.Previous(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Server.previousStepHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) goToStepHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GoToStepRequest
	if !decodeJSON(w, r, &req, "Server.goToStepHandler") {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "Server.goToStepHandler", err)
		return
	}
	view, err := s.wizards.GoTo(r.Context(), r.PathValue("id"), req.Step)
	if err != nil {
		writeError(w, "Server.goToStepHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) validateStepHandler(w http.ResponseWriter, r *http.Request) {
	view, res, err := s.wizards.Validate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Server.validateStepHandler", err)
		return
	}
	if !res.IsValid {
		invalidStep(w, res, view)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Step is valid", view))
}

func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.wizards.Save(r.Context(), r.PathValue("id"))
	s.writeSaveResult(w, "Server.saveHandler", out, err)
}

func (s *Server) saveEarlyHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.wizards.SaveEarly(r.Context(), r.PathValue("id"))
	s.writeSaveResult(w, "Server.saveEarlyHandler", out, err)
}

func (s *Server) writeSaveResult(w http.ResponseWriter, handler string, out wizard.SaveResult, err error) {
	if err != nil {
		writeError(w, handler, err)
		return
	}
	if out.Log == nil {
		var view wizard.View
		if out.View != nil {
			view = *out.View
		}
		invalidStep(w, out.Validation, view)
		return
	}
	slog.Info(handler+": symptom log recorded", "logID", out.Log.ID, "flowID", out.Log.FlowID)
	writeJSONResponse(w, http.StatusCreated, models.RecordedWithMessage("Symptom log recorded", out.Log))
}

func (s *Server) cancelSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.wizards.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, "Server.cancelSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cancelled", nil))
}

func (s *Server) listLogsHandler(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	if len(participantID) > models.MaxParticipantIDLength {
		writeError(w, "Server.listLogsHandler", models.ErrParticipantIDTooLong)
		return
	}
	logs, err := s.st.GetLogs(r.Context(), participantID)
	if err != nil {
		writeError(w, "Server.listLogsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(logs))
}

// healthHandler reports liveness and the number of sessions held in memory.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     s.now().UTC().Format(time.RFC3339),
		"live_sessions": s.wizards.Live(),
	})
}
