// Package v1 provides the REST API handlers for repository administration.
package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dozodouzo/gitnotify/internal/config"
	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/notify"
	"github.com/Dozodouzo/gitnotify/internal/registry"
)

// defaultLogCount is how many commits a log request returns when the query
// does not say.
const defaultLogCount = 10

// Scheduler is the slice of the poll scheduler the API needs.
type Scheduler interface {
	Trigger(name string)
	Reload(pollPeriod time.Duration)
}

// RepositoryResponse describes one tracked repository.
type RepositoryResponse struct {
	Name                string   `json:"name"`
	URL                 string   `json:"url"`
	Branches            []string `json:"branches"`
	Destinations        []string `json:"destinations"`
	SnarfEnabled        bool     `json:"snarf_enabled"`
	AnnounceNewBranches bool     `json:"announce_new_branches"`
}

// CommitResponse describes one commit in a log response.
type CommitResponse struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Subject string    `json:"subject"`
	When    time.Time `json:"when"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the admin API with dependency injection
type Routes struct {
	registry   *registry.Registry
	dispatcher *notify.Dispatcher
	scheduler  Scheduler
	configPath string

	// mu guards cfg, which reload swaps for a freshly loaded one.
	mu  sync.RWMutex
	cfg *config.Config
}

// NewRoutes creates a new Routes instance with the provided dependencies.
// configPath is the file reload re-reads.
func NewRoutes(reg *registry.Registry, dispatcher *notify.Dispatcher, scheduler Scheduler, cfg *config.Config, configPath string) *Routes {
	return &Routes{
		registry:   reg,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		configPath: configPath,
		cfg:        cfg,
	}
}

// Router creates a new router for the admin API
func Router(reg *registry.Registry, dispatcher *notify.Dispatcher, scheduler Scheduler, cfg *config.Config, configPath string) http.Handler {
	routes := NewRoutes(reg, dispatcher, scheduler, cfg, configPath)

	r := chi.NewRouter()

	r.Get("/repositories", routes.listRepositories)
	r.Post("/repositories", routes.addRepository)
	r.Get("/repositories/{name}", routes.getRepository)
	r.Delete("/repositories/{name}", routes.removeRepository)
	r.Get("/repositories/{name}/branches", routes.getBranches)
	r.Get("/repositories/{name}/log", routes.getLog)
	r.Post("/repositories/{name}/sync", routes.triggerSync)
	r.Post("/reload", routes.reload)

	return r
}

// listRepositories handles GET /api/v1/repositories
func (rr *Routes) listRepositories(w http.ResponseWriter, _ *http.Request) {
	repos := rr.registry.List()
	resp := make([]RepositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepositoryResponse(repo))
	}
	rr.writeJSONResponse(w, http.StatusOK, resp)
}

// addRepository handles POST /api/v1/repositories
func (rr *Routes) addRepository(w http.ResponseWriter, r *http.Request) {
	var req config.RepositoryConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// The name keys the mirror directory, which Add wipes before cloning.
	// Reject anything that could reach outside repoDir before the registry
	// touches the filesystem.
	if err := req.Validate(); err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rr.mu.RLock()
	repo := rr.cfg.Repository(req)
	rr.mu.RUnlock()

	if err := rr.registry.Add(r.Context(), repo); err != nil {
		if errors.Is(err, registry.ErrDuplicateName) {
			rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("Failed to add repository", "repository", req.Name, "error", err)
		rr.writeErrorResponse(w, "Failed to add repository: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// First sync right away; the next poll tick may be a long way off.
	rr.scheduler.Trigger(repo.Name)

	rr.writeJSONResponse(w, http.StatusCreated, toRepositoryResponse(repo))
}

// getRepository handles GET /api/v1/repositories/{name}
func (rr *Routes) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := rr.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		rr.writeRegistryError(w, err)
		return
	}
	rr.writeJSONResponse(w, http.StatusOK, toRepositoryResponse(repo))
}

// removeRepository handles DELETE /api/v1/repositories/{name}
func (rr *Routes) removeRepository(w http.ResponseWriter, r *http.Request) {
	if err := rr.registry.Remove(chi.URLParam(r, "name")); err != nil {
		rr.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getBranches handles GET /api/v1/repositories/{name}/branches
func (rr *Routes) getBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := rr.dispatcher.WatchedBranches(chi.URLParam(r, "name"))
	if err != nil {
		rr.writeRegistryError(w, err)
		return
	}
	if branches == nil {
		branches = []string{}
	}
	rr.writeJSONResponse(w, http.StatusOK, branches)
}

// getLog handles GET /api/v1/repositories/{name}/log?branch=main&count=5
func (rr *Routes) getLog(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	if branch == "" {
		rr.writeErrorResponse(w, "branch query parameter is required", http.StatusBadRequest)
		return
	}

	count := defaultLogCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			rr.writeErrorResponse(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = parsed
	}

	commits, err := rr.dispatcher.RecentCommits(chi.URLParam(r, "name"), branch, count)
	if err != nil {
		if errors.Is(err, notify.ErrBranchNotWatched) {
			rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		rr.writeRegistryError(w, err)
		return
	}

	resp := make([]CommitResponse, 0, len(commits))
	for _, c := range commits {
		resp = append(resp, toCommitResponse(c))
	}
	rr.writeJSONResponse(w, http.StatusOK, resp)
}

// triggerSync handles POST /api/v1/repositories/{name}/sync
func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := rr.registry.Get(name); err != nil {
		rr.writeRegistryError(w, err)
		return
	}
	rr.scheduler.Trigger(name)
	w.WriteHeader(http.StatusAccepted)
}

// reload handles POST /api/v1/reload. The configuration file is read again
// and the scheduler restarts with the new polling interval; later adds
// inherit the new global settings. Repository declarations are not
// reconciled; changing one takes a remove and an add.
func (rr *Routes) reload(w http.ResponseWriter, _ *http.Request) {
	cfg, err := config.LoadConfig(config.WithConfigPath(rr.configPath))
	if err != nil {
		slog.Error("Failed to reload configuration", "path", rr.configPath, "error", err)
		rr.writeErrorResponse(w, "Failed to reload configuration: "+err.Error(), http.StatusInternalServerError)
		return
	}

	rr.mu.Lock()
	rr.cfg = cfg
	rr.mu.Unlock()

	rr.scheduler.Reload(cfg.GetPollPeriod())
	slog.Info("Configuration reloaded", "path", rr.configPath,
		"poll_period", cfg.GetPollPeriod().String())
	w.WriteHeader(http.StatusNoContent)
}

func toRepositoryResponse(repo registry.Repository) RepositoryResponse {
	return RepositoryResponse{
		Name:                repo.Name,
		URL:                 repo.RemoteURL,
		Branches:            repo.Branches,
		Destinations:        repo.Destinations,
		SnarfEnabled:        repo.SnarfEnabled,
		AnnounceNewBranches: repo.AnnounceNewBranches,
	}
}

func toCommitResponse(c git.Commit) CommitResponse {
	return CommitResponse{
		Hash:    c.Hash,
		Author:  c.Author,
		Email:   c.Email,
		Subject: c.Subject(),
		When:    c.When,
	}
}

// writeRegistryError maps registry lookup errors onto HTTP statuses.
func (rr *Routes) writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("Request failed", "error", err)
	rr.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
