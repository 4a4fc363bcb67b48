package audit

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/onnwee/lostfound/internal/middleware"
)

// Recorder turns admin HTTP calls into audit entries.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	ip     middleware.KeyFunc
}

// NewRecorder creates a Recorder. A nil repo yields a Recorder whose
// middleware passes requests through untouched.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger, ip: middleware.IPKeyFunc()}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records one entry per request after the handler returns.
// The entity id comes from the {id} path value, or from the Location header
// for creates. Responses below 400 count as success.
//
// The change has already happened when the entry is written, so a storage
// failure is logged and the response is left alone.
func (rec *Recorder) Middleware(entityType, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil || rec.repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			outcome := OutcomeSuccess
			if status >= http.StatusBadRequest {
				outcome = OutcomeFailure
			}
			entityID := r.PathValue("id")
			if entityID == "" {
				if loc := sw.Header().Get("Location"); loc != "" {
					entityID = path.Base(loc)
				}
			}

			entry := LogEntry{
				Actor:      middleware.GetUserID(r.Context()),
				EntityType: entityType,
				EntityID:   entityID,
				Action:     action,
				Outcome:    outcome,
				Status:     status,
				RequestID:  middleware.GetRequestID(r.Context()),
				IPAddress:  strings.TrimPrefix(rec.ip(r), "ip:"),
			}
			if _, err := rec.repo.Record(r.Context(), entry); err != nil {
				rec.logger.Error("failed to record audit entry",
					"error", err,
					"action", action,
					"entity_id", entityID,
					"request_id", entry.RequestID)
			}
		})
	}
}
