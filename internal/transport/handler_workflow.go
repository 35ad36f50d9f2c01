package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/history"
	"github.com/quorumdocs/docflow/internal/lifecycle"
	"github.com/quorumdocs/docflow/internal/observability"
	"github.com/quorumdocs/docflow/internal/transition"
	"github.com/quorumdocs/docflow/model"
)

func handleWorkflowCreateOrGet(manager *lifecycle.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		documentID := chi.URLParam(r, "documentId")

		var body struct {
			WorkflowID string `json:"workflowId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.WorkflowID == "" {
			WriteValidationError(w, []model.FieldError{{
				Field: "workflowId", Code: "required", Message: "workflowId is required",
			}})
			return
		}

		inst, err := manager.GetOrCreate(r.Context(), rctx, documentID, body.WorkflowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordWorkflowCreate(inst.WorkflowID)
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleWorkflowStart(manager *lifecycle.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		documentID := chi.URLParam(r, "documentId")

		inst, err := manager.Start(r.Context(), rctx, documentID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordWorkflowStart(inst.WorkflowID)
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleWorkflowAdvance(manager *lifecycle.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		documentID := chi.URLParam(r, "documentId")

		inst, err := manager.Advance(r.Context(), rctx, documentID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			if inst.CompletedAt != nil {
				metrics.RecordWorkflowCompletion(inst.WorkflowID)
			} else {
				metrics.RecordWorkflowAdvance(inst.WorkflowID, inst.CurrentStageID)
			}
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleWorkflowStatus(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")

		status, err := manager.Status(r.Context(), documentID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

func handleWorkflowReset(manager *lifecycle.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		documentID := chi.URLParam(r, "documentId")

		result, err := manager.Reset(r.Context(), rctx, documentID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordWorkflowReset(result.WorkflowID)
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleWorkflowTransition(engine *transition.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		documentID := chi.URLParam(r, "documentId")

		var body struct {
			ToStageID        string `json:"toStageId"`
			CompleteWorkflow bool   `json:"completeWorkflow"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.ToStageID == "" {
			WriteValidationError(w, []model.FieldError{{
				Field: "toStageId", Code: "required", Message: "toStageId is required",
			}})
			return
		}

		inst, err := engine.TransitionToStage(r.Context(), rctx, documentID, body.ToStageID, body.CompleteWorkflow)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceTransition(engine *transition.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			ToStage      string         `json:"toStage"`
			RequiredRole string         `json:"requiredRole"`
			Data         map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.ToStage == "" {
			WriteValidationError(w, []model.FieldError{{
				Field: "toStage", Code: "required", Message: "toStage is required",
			}})
			return
		}

		inst, err := engine.TransitionWithRole(r.Context(), rctx, instanceID, body.ToStage, body.RequiredRole, body.Data)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceBackward(engine *transition.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			ToStage string `json:"toStage"`
			Reason  string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		inst, err := engine.MoveBackward(r.Context(), rctx, instanceID, body.ToStage, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			fromStage := ""
			if last, ok := inst.Metadata[model.MetaLastTransition].(map[string]any); ok {
				fromStage, _ = last["from"].(string)
			}
			metrics.RecordWorkflowBackward(fromStage, inst.CurrentStageID)
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceHistory(recorder *history.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := chi.URLParam(r, "instanceId")

		views, err := recorder.History(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"history": views})
	}
}

func handleInstancePermissions(engine *transition.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		perms, err := engine.Permissions(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, perms)
	}
}

func handleDefinitionsList(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"definitions": registry.Summaries(),
			"checksum":    registry.Checksum(),
		})
	}
}
