package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speechd/internal/manager"
	"speechd/internal/speech"
	"speechd/internal/sysinfo"
	"speechd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *speech.Families implements it.
type Service interface {
	ListLocal(task string) ([]types.Model, error)
	ListRemote(task string) []types.Model
	Model(ctx context.Context, id string) (types.Model, error)
	AudioModels() ([]types.Model, error)
	Voices() ([]types.Voice, error)
	Download(ctx context.Context, id string) (bool, error)
	Delete(id string) error
	Get(family string) (speech.Family, bool)
	Loaded() []types.LoadedModel
	Engines() []types.EngineStatus
	Events(ctx context.Context, limit int) ([]types.EventRecord, error)
}

var _ Service = (*speech.Families)(nil)

// memoryStatus is swapped in tests.
var memoryStatus = sysinfo.Memory

const defaultEventsLimit = 100

// NewMux builds the admin router.
func NewMux(svc Service) http.Handler {
	started := time.Now()
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		task, ok := taskParam(w, r)
		if !ok {
			return
		}
		models, err := svc.ListLocal(task)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Data: nonNil(models), Object: "list"})
	})

	r.Get("/v1/registry", func(w http.ResponseWriter, r *http.Request) {
		task, ok := taskParam(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Data: nonNil(svc.ListRemote(task)), Object: "list"})
	})

	r.Get("/v1/models/*", func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		start := time.Now()
		ctx, cancel := loadContext(r)
		defer cancel()
		m, err := svc.Model(ctx, id)
		if err != nil {
			status := statusFor(err)
			logOp(r, "get_model", id, status, start, err)
			writeJSONError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	r.Get("/v1/audio/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.AudioModels()
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.AudioModelsResponse{Models: nonNil(models), Object: "list"})
	})

	r.Get("/v1/audio/voices", func(w http.ResponseWriter, r *http.Request) {
		voices, err := svc.Voices()
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.VoicesResponse{Voices: nonNil(voices), Object: "list"})
	})

	r.Post("/v1/models/*", func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		start := time.Now()
		ctx, cancel := loadContext(r)
		defer cancel()
		downloaded, err := svc.Download(ctx, id)
		if err != nil {
			status := statusFor(err)
			logOp(r, "download", id, status, start, err)
			writeJSONError(w, status, err.Error())
			return
		}
		if !downloaded {
			logOp(r, "download", id, http.StatusCreated, start, nil)
			writeJSON(w, http.StatusCreated, types.DetailResponse{Detail: fmt.Sprintf("Model '%s' already exists", id)})
			return
		}
		logOp(r, "download", id, http.StatusOK, start, nil)
		writeJSON(w, http.StatusOK, types.DetailResponse{Detail: fmt.Sprintf("Model '%s' downloaded", id)})
	})

	r.Delete("/v1/models/*", func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		start := time.Now()
		if err := svc.Delete(id); err != nil {
			status := statusFor(err)
			countRejection(status)
			logOp(r, "delete", id, status, start, err)
			writeJSONError(w, status, err.Error())
			return
		}
		logOp(r, "delete", id, http.StatusOK, start, nil)
		writeJSON(w, http.StatusOK, types.DetailResponse{Detail: fmt.Sprintf("Model '%s' deleted", id)})
	})

	r.Get("/v1/loaded", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.LoadedResponse{Models: nonNil(svc.Loaded())})
	})

	r.Post("/v1/loaded/{family}/*", func(w http.ResponseWriter, r *http.Request) {
		fam, id, ok := familyParams(w, r, svc)
		if !ok {
			return
		}
		if draining() {
			IncrementRejection("draining")
			writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		start := time.Now()
		ctx, cancel := loadContext(r)
		defer cancel()
		st, err := fam.Warm(ctx, id)
		if err != nil {
			status := statusFor(err)
			countRejection(status)
			logOp(r, "load", id, status, start, err)
			writeJSONError(w, status, err.Error())
			return
		}
		logOp(r, "load", id, http.StatusOK, start, nil)
		writeJSON(w, http.StatusOK, st)
	})

	r.Delete("/v1/loaded/{family}/*", func(w http.ResponseWriter, r *http.Request) {
		fam, id, ok := familyParams(w, r, svc)
		if !ok {
			return
		}
		start := time.Now()
		err := fam.Unload(id)
		switch {
		case err == nil:
			logOp(r, "unload", id, http.StatusOK, start, nil)
			writeJSON(w, http.StatusOK, types.DetailResponse{Detail: fmt.Sprintf("Model '%s' unloaded", id)})
		case manager.IsDisposeFailure(err):
			// the instance is gone; report the close error without failing
			logOp(r, "unload", id, http.StatusOK, start, err)
			writeJSON(w, http.StatusOK, types.DetailResponse{Detail: fmt.Sprintf("Model '%s' unloaded with error: %v", id, err)})
		default:
			status := statusFor(err)
			countRejection(status)
			logOp(r, "unload", id, status, start, err)
			writeJSONError(w, status, err.Error())
		}
	})

	r.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultEventsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		evs, err := svc.Events(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.EventsResponse{Events: nonNil(evs)})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		resp := types.StatusResponse{
			Models:         nonNil(svc.Loaded()),
			Engines:        svc.Engines(),
			UptimeSeconds:  int64(now.Sub(started) / time.Second),
			ServerTimeUnix: now.Unix(),
		}
		if mem, err := memoryStatus(); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Memory = mem
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func taskParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	task := r.URL.Query().Get("task")
	switch task {
	case "", types.TaskSpeechRecognition, types.TaskTextToSpeech:
		return task, true
	}
	writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown task %q", task))
	return "", false
}

// idParam returns the wildcard model id. Ids may contain '/'.
func idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	id, err := url.PathUnescape(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid model id")
		return "", false
	}
	id = strings.Trim(id, "/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "model id is required")
		return "", false
	}
	return id, true
}

func familyParams(w http.ResponseWriter, r *http.Request, svc Service) (speech.Family, string, bool) {
	name := chi.URLParam(r, "family")
	fam, ok := svc.Get(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown model family %q", name))
		return nil, "", false
	}
	id, ok := idParam(w, r)
	if !ok {
		return nil, "", false
	}
	return fam, id, true
}

func countRejection(status int) {
	switch status {
	case http.StatusConflict:
		IncrementRejection("in_use")
	case http.StatusServiceUnavailable:
		IncrementRejection("closed")
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
