// Package httpapi is mailgate's JSON API: health checks, manual sync
// triggering, sync and scheduler status, and message forwarding. There
// is no browser frontend, so the middleware stack stays minimal.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/forwarder"
	"github.com/portcall/mailgate/internal/pipeline"
	"github.com/portcall/mailgate/internal/repository"
	"github.com/portcall/mailgate/internal/scheduler"
)

const serviceName = "mailgate"
const serviceVersion = "1.0.0"

// Config holds the dependencies the router dispatches to.
type Config struct {
	Repo      *repository.Repository
	Scheduler *scheduler.Scheduler
	Forwarder *forwarder.Forwarder
	Logger    *log.Logger
}

// NewRouter builds the chi router for the service's routes.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/", handleRoot())
	r.Get("/health", handleHealth())
	r.Post("/sync/manual", handleSyncManual(cfg))
	r.Get("/sync/status", handleSyncStatus(cfg))
	r.Get("/scheduler/status", handleSchedulerStatus(cfg))
	r.Post("/emails/{email_id}/forward", handleForward(cfg))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "mailgate ingestion service",
			"version": serviceVersion,
		})
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

func handleSyncManual(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := pipeline.RunOptions{}

		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			opts.Limit = limit
		}
		if v := r.URL.Query().Get("since_date"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since_date must be ISO8601")
				return
			}
			opts.Since = since
		}

		result := cfg.Scheduler.TriggerManual(r.Context(), opts)
		if !result.Success {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": result.Message})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": result.Stats})
	}
}

func handleSyncStatus(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastStats, lastRun, hasLast := cfg.Scheduler.LastResult()
		dbStats, err := cfg.Repo.Stats()
		if err != nil {
			cfg.Logger.Printf("httpapi: repository stats: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read database stats")
			return
		}

		body := map[string]any{
			"is_syncing":      cfg.Scheduler.IsRunning(),
			"database_stats":  dbStats,
			"last_sync_time":  nil,
			"last_sync_stats": nil,
		}
		if hasLast {
			body["last_sync_time"] = lastRun.Format(time.RFC3339)
			body["last_sync_stats"] = lastStats
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleSchedulerStatus(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := cfg.Scheduler.Status()
		if !status.JobExists {
			writeJSON(w, http.StatusOK, map[string]any{
				"running":    status.Running,
				"job_exists": false,
			})
			return
		}
		var nextRun any
		if status.HasNextRunTime {
			nextRun = status.NextRunTime.Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":               status.JobID,
			"job_name":             status.JobName,
			"next_run_time":        nextRun,
			"trigger":              status.Trigger,
			"running":              status.Running,
			"max_instances":        status.MaxInstances,
			"misfire_grace_time":   status.MisfireGraceTime,
		})
	}
}

type forwardBody struct {
	To         []string `json:"to_addresses"`
	CC         []string `json:"cc_addresses"`
	BCC        []string `json:"bcc_addresses"`
	Additional string   `json:"additional_message"`
}

func handleForward(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "email_id")
		emailID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "email_id must be an integer")
			return
		}

		var body forwardBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		_, err = cfg.Forwarder.Forward(r.Context(), forwarder.Request{
			MessageID:         emailID,
			To:                body.To,
			CC:                body.CC,
			BCC:               body.BCC,
			AdditionalMessage: body.Additional,
		})
		if err != nil {
			var kindErr *errs.Error
			if errors.As(err, &kindErr) {
				switch kindErr.Kind() {
				case errs.NotFound:
					writeError(w, http.StatusNotFound, "email not found")
					return
				case errs.Validation:
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
			writeError(w, http.StatusInternalServerError, "forward failed: "+err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "email forwarded",
			"email_id": emailID,
		})
	}
}
