package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"log"
	"net/http"

	"github.com/cexll/testpilot/internal/taskstore"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler serves the job store over HTTP.
type Handler struct {
	store     *taskstore.Store
	gatherer  prometheus.Gatherer
	templates *template.Template
}

// NewHandler creates a handler over store. Metrics are served from gatherer;
// a nil gatherer disables /metrics.
func NewHandler(store *taskstore.Store, gatherer prometheus.Gatherer) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"statusColor": statusColor,
		"statusIcon":  statusIcon,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		store:     store,
		gatherer:  gatherer,
		templates: tmpl,
	}, nil
}

// Router returns a router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the job and health routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleJobPage).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/jobs", h.handleJobList).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.handleJobDetail).Methods(http.MethodGet)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleJobPage renders the job list as HTML
func (h *Handler) handleJobPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Jobs []taskstore.Job
	}{
		Jobs: h.store.List(),
	}

	if err := h.templates.ExecuteTemplate(w, "job_list.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleJobList(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Kind) == kind {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, ok := h.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Web] Failed to encode response: %v", err)
	}
}

func statusColor(status taskstore.JobStatus) string {
	switch status {
	case taskstore.StatusPending:
		return "#6c757d"
	case taskstore.StatusRunning:
		return "#0d6efd"
	case taskstore.StatusCompleted:
		return "#198754"
	case taskstore.StatusFailed:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func statusIcon(status taskstore.JobStatus) string {
	switch status {
	case taskstore.StatusRunning:
		return "⟳"
	case taskstore.StatusCompleted:
		return "✓"
	case taskstore.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}
