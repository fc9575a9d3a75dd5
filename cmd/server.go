package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/upload"
)

const maxUploadBytes = 64 << 20

// api serves the upload and run-triage endpoints.
type api struct {
	pool    db.Pool
	ledger  *ledger.Ledger
	clients *client.Directory
	uploads *upload.Registry
	now     func() time.Time
	log     *zap.Logger
}

func newAPI(env *appEnv) *api {
	return &api{
		pool:    env.Pool,
		ledger:  env.Ledger,
		clients: env.Clients,
		uploads: env.Uploads,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// routes builds the router. gatherer backs /metrics.
func (a *api) routes(origins []string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/uploads", a.createUpload)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", a.listRuns)
		r.Get("/{id}", a.getRun)
		r.Post("/{id}/resolve", a.resolveRun)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createUpload accepts a multipart report (client_id, source, file) and
// queues it. Processing happens on the next recovery sweep.
func (a *api) createUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	clientID, err := uuid.Parse(r.FormValue("client_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "client_id must be a uuid")
		return
	}
	src, err := model.ParseSource(r.FormValue("source"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}
	runDate := a.now().UTC().Truncate(24 * time.Hour)
	if d := r.FormValue("run_date"); d != "" {
		if runDate, err = parseDay(d, runDate); err != nil {
			respondError(w, http.StatusBadRequest, "run_date must be YYYY-MM-DD")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := a.clients.Get(r.Context(), a.pool, clientID); err != nil {
		if eris.Is(err, client.ErrNotFound) {
			respondError(w, http.StatusNotFound, "client not found")
			return
		}
		a.internalError(w, "lookup client", err)
		return
	}

	acc, err := a.uploads.Accept(r.Context(), a.pool, upload.AcceptParams{
		ClientID:   clientID,
		Source:     src,
		FileName:   header.Filename,
		Body:       file,
		UploadedBy: r.FormValue("uploaded_by"),
		RunDate:    runDate,
	})
	switch {
	case eris.Is(err, upload.ErrBadFileName), eris.Is(err, fetcher.ErrUnsupportedFormat):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.internalError(w, "accept upload", err)
		return
	}
	respondJSON(w, http.StatusAccepted, acc)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Status:     model.RunStatus(q.Get("status")),
		Resolution: model.ResolutionStatus(q.Get("resolution")),
	}
	if s := q.Get("source"); s != "" {
		src, err := model.ParseSource(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unknown source")
			return
		}
		f.Source = src
	}
	if s := q.Get("client_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "client_id must be a uuid")
			return
		}
		f.ClientID = id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		f.Limit = n
	}

	runs, err := a.ledger.List(r.Context(), a.pool, f)
	if err != nil {
		a.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := a.ledger.Get(r.Context(), a.pool, id)
	switch {
	case eris.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, "run not found")
	case err != nil:
		a.internalError(w, "get run", err)
	default:
		respondJSON(w, http.StatusOK, run)
	}
}

func (a *api) resolveRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
		By     string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status == "" {
		body.Status = string(model.ResolutionResolved)
	}

	err := a.ledger.Resolve(r.Context(), a.pool, id, model.ResolutionStatus(body.Status), body.Notes, body.By)
	switch {
	case eris.Is(err, ledger.ErrInvalidResolution):
		respondError(w, http.StatusBadRequest, "status must be resolved, ignored or unresolved")
	case eris.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, "run not found")
	case err != nil:
		a.internalError(w, "resolve run", err)
	default:
		respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "resolution_status": body.Status})
	}
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "run id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (a *api) internalError(w http.ResponseWriter, op string, err error) {
	a.log.Error("request failed", zap.String("op", op), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
