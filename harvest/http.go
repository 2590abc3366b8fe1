package harvest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/kit"
)

// maxBodyBytes bounds admin request bodies. No route reads a large body.
const maxBodyBytes = 64 * 1024

// Routes returns the catalog read API and the admin trigger routes.
func (svc *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(maxBody(maxBodyBytes))
	r.Use(withTransport)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", svc.handleListServers)
		r.Get("/servers/by-url", svc.handleServerByURL)
		r.Get("/servers/{seq}", svc.handleServerBySeq)
		r.Get("/tags", svc.handleListTags)
		r.Get("/stats", svc.handleStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(svc.requireAdmin)
			r.Get("/runs", svc.handleRunLogs)
			r.Post("/discover/{facet}", svc.handleDiscover)
			r.Post("/intake", svc.handleIntake)
			r.Post("/enrich", svc.handleEnrich)
			r.Post("/enrich/{serverID}", svc.handleEnrich)
			r.Post("/run", svc.handleRun)
		})
	})
	return r
}

// --- Middleware ---

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func withTransport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin checks the bearer token against the configured bcrypt hash.
func (svc *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="harvest"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bearer token required"})
			return
		}
		if !svc.VerifyAdminToken(token) {
			svc.logger.Warn("harvest: admin token rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin token invalid"})
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithTrigger(r.Context(), "admin")))
	})
}

// --- Catalog reads ---

func (svc *Service) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	servers, err := svc.ListServers(r.Context(), ListFilter{
		MinStars: int64(queryInt(r, "min_stars", 0)),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (svc *Service) handleServerBySeq(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
	if err != nil || seq <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("seq must be a positive integer"))
		return
	}
	srv, err := svc.GetServerBySeq(r.Context(), seq)
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (svc *Service) handleServerByURL(w http.ResponseWriter, r *http.Request) {
	srv, err := svc.GetServerByURL(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (svc *Service) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := svc.ListTags(r.Context())
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := svc.Stats(r.Context())
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Admin triggers ---

func (svc *Service) handleDiscover(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "facet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("facet must be an integer"))
		return
	}
	svc.accepted(w, svc.StartDiscover(r.Context(), i))
}

func (svc *Service) handleIntake(w http.ResponseWriter, r *http.Request) {
	svc.accepted(w, svc.StartIntake(r.Context()))
}

func (svc *Service) handleEnrich(w http.ResponseWriter, r *http.Request) {
	svc.accepted(w, svc.StartEnrich(r.Context(), chi.URLParam(r, "serverID")))
}

func (svc *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	svc.accepted(w, svc.StartRun(r.Context(), queryInt(r, "facet", -1)))
}

func (svc *Service) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := svc.RunLogs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (svc *Service) accepted(w http.ResponseWriter, err error) {
	if err != nil {
		svc.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- Helpers ---

func (svc *Service) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidFacet):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, forge.ErrForbidden), errors.Is(err, genai.ErrForbidden):
		writeError(w, http.StatusBadGateway, err)
	default:
		svc.logger.Error("harvest: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
