package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/security"
	"library-circulation/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler exposes the read side of the circulation service over plain HTTP:
// health, catalog, reports and a server-sent change feed.
type Handler struct {
	books      service.BookService
	reports    service.ReportService
	subscriber service.SnapshotSubscriber
	log        *slog.Logger
}

func NewHandler(books service.BookService, reports service.ReportService, subscriber service.SnapshotSubscriber) *Handler {
	return &Handler{
		books:      books,
		reports:    reports,
		subscriber: subscriber,
		log:        logger.WithComponent("http"),
	}
}

// RegisterRoutes registers the HTTP endpoints. A nil tokenManager leaves the API routes open.
func RegisterRoutes(router *mux.Router, h *Handler, tokenManager security.TokenManager) {
	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	if tokenManager != nil {
		api.Use(AuthMiddleware(tokenManager))
	}
	api.HandleFunc("/books", h.HandleListBooks).Methods("GET")
	api.HandleFunc("/reports", h.HandleReports).Methods("GET")
	api.HandleFunc("/subscribe/{collection}", h.HandleSubscribe).Methods("GET")
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.ListBooks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (h *Handler) HandleReports(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetReports(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSubscribe streams snapshots of one collection as server-sent events,
// starting with the current one.
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseCollection(mux.Vars(r)["collection"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	sub, err := h.subscriber.Subscribe(ctx, c)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				h.log.ErrorContext(ctx, "Failed to encode snapshot", "collection", c, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", snap.Version, snap.Collection, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// AuthMiddleware requires a valid bearer access token on every request.
func AuthMiddleware(tm security.TokenManager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
				token = token[7:]
			}
			if token == "" {
				http.Error(w, "Missing authorization token", http.StatusUnauthorized)
				return
			}
			if _, err := tm.ValidateToken(token); err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
	default:
		h.log.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
