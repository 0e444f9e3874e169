package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
	"github.com/petsync/internal/service"
	"github.com/petsync/internal/view"
)

// Notifications lists and dismisses local notices
type Notifications interface {
	List() []domain.Notification
	Dismiss(id string)
}

// Targeter starts automated moves
type Targeter interface {
	SetTarget(id string, dest domain.Point) bool
}

// Flusher initiates an immediate position save
type Flusher interface {
	Flush()
}

// Dependencies groups what the HTTP API drives
type Dependencies struct {
	Pets          *service.PetService
	Store         *registry.Store
	Notifications Notifications
	Reloader      service.Reloader
	Flusher       Flusher
	Motion        Targeter
	Hub           *view.Hub

	// Ready reports whether the client is connected; nil means always ready
	Ready func() error
}

// Handler provides HTTP handlers for the local pet API
type Handler struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, logger *slog.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Renderer socket
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pets", func(r chi.Router) {
			r.Get("/", h.ListPets)
			r.Post("/", h.CreatePet)
			r.Get("/visible", h.VisiblePets)
			r.Get("/mine", h.MyPets)

			r.Route("/{petID}", func(r chi.Router) {
				r.Get("/", h.GetPet)
				r.Delete("/", h.ReleasePet)
				r.Post("/target", h.SetTarget)
				r.Post("/{action}", h.PetAction)
			})
		})

		r.Get("/users", h.ListUsers)
		r.Get("/users/online", h.OnlineUsers)
		r.Get("/cursors", h.ListCursors)

		r.Get("/notifications", h.ListNotifications)
		r.Delete("/notifications/{notificationID}", h.DismissNotification)

		r.Post("/sync/refresh", h.Refresh)
		r.Post("/sync/flush", h.Flush)

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidPetName), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrMutationRejected):
		h.writeError(w, http.StatusBadGateway, domain.ErrMutationRejected)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket upgrades a renderer connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	view.ServeWs(h.deps.Hub, h.logger, w, r)
}

// GetWebSocketStats returns renderer connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.deps.Hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ListPets returns every known pet
func (h *Handler) ListPets(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Store.Pets())
}

// MyPets returns the viewer's pets
func (h *Handler) MyPets(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Store.MyPets())
}

// VisiblePets returns the pets shown for the filter in the query string:
// owners=id1,id2&show_dead=true&show_my_knocked_out=true
func (h *Handler) VisiblePets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var owners []string
	if raw := q.Get("owners"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				owners = append(owners, id)
			}
		}
	}
	showDead, _ := strconv.ParseBool(q.Get("show_dead"))
	showMine, _ := strconv.ParseBool(q.Get("show_my_knocked_out"))

	h.writeSuccess(w, h.deps.Store.VisiblePets(registry.ViewFilter{
		SelectedOwners:   owners,
		ShowDeadPets:     showDead,
		ShowMyKnockedOut: showMine,
	}))
}

// GetPet returns one pet
func (h *Handler) GetPet(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.deps.Store.Pet(chi.URLParam(r, "petID"))
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrPetNotFound)
		return
	}
	h.writeSuccess(w, pet)
}

// CreatePetRequest is the body of POST /api/v1/pets
type CreatePetRequest struct {
	Name string `json:"name"`
}

// CreatePet asks the authority for a new pet
func (h *Handler) CreatePet(w http.ResponseWriter, r *http.Request) {
	var req CreatePetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	pet, err := h.deps.Pets.Create(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, "create pet", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    pet,
	})
}

// PetAction performs feed, play, rest, revive, support or release
func (h *Handler) PetAction(w http.ResponseWriter, r *http.Request) {
	petID := chi.URLParam(r, "petID")
	action, ok := service.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrInvalidRequest)
		return
	}

	if action == service.ActionRelease {
		h.release(w, r, petID)
		return
	}

	pet, err := h.deps.Pets.Act(r.Context(), action, petID)
	if err != nil {
		h.writeServiceError(w, string(action), err)
		return
	}
	h.writeSuccess(w, pet)
}

// ReleasePet gives up a pet
func (h *Handler) ReleasePet(w http.ResponseWriter, r *http.Request) {
	h.release(w, r, chi.URLParam(r, "petID"))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request, petID string) {
	released, err := h.deps.Pets.Release(r.Context(), petID)
	if err != nil {
		h.writeServiceError(w, "release", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"released": released, "id": petID})
}

// TargetRequest is the body of POST /api/v1/pets/{petID}/target
type TargetRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SetTarget starts an automated move toward a point
func (h *Handler) SetTarget(w http.ResponseWriter, r *http.Request) {
	petID := chi.URLParam(r, "petID")
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if _, ok := h.deps.Store.Pet(petID); !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrPetNotFound)
		return
	}
	if !h.deps.Motion.SetTarget(petID, domain.Point{X: req.X, Y: req.Y}) {
		// Knocked-out pets stay put.
		h.writeError(w, http.StatusConflict, domain.ErrInvalidRequest)
		return
	}

	h.writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"id": petID, "x": req.X, "y": req.Y},
	})
}

// ListUsers returns every known user
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Store.Users())
}

// OnlineUsers returns other players currently online
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Store.OnlineOthers())
}

// ListCursors returns other users' pointers
func (h *Handler) ListCursors(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Store.Cursors())
}

// ListNotifications returns the live notices
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.deps.Notifications.List())
}

// DismissNotification removes a notice early
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	h.deps.Notifications.Dismiss(chi.URLParam(r, "notificationID"))
	h.writeSuccess(w, map[string]string{"status": "dismissed"})
}

// Refresh performs a full reload from the authority
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Reloader.LoadAll(r.Context()); err != nil {
		h.logger.Warn("refresh failed", "error", err)
		h.writeError(w, http.StatusBadGateway, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"pets":  len(h.deps.Store.Pets()),
		"users": len(h.deps.Store.Users()),
	})
}

// Flush starts an immediate position save
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	h.deps.Flusher.Flush()
	h.writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]string{"status": "flushing"},
	})
}
