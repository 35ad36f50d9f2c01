package transport

import (
	"net/http"

	"github.com/quorumdocs/docflow/internal/lifecycle"
	"github.com/quorumdocs/docflow/internal/observability"
	"github.com/quorumdocs/docflow/model"
)

func handleAdminCleanup(manager *lifecycle.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		report, err := manager.CleanupAllOrphaned(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordDuplicatesCleaned(report.DuplicatesRemoved)
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func handleAdminStats(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := manager.Stats(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}
