package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/arawak/cortado/internal/catalog"
	"github.com/arawak/cortado/internal/config"
	"github.com/arawak/cortado/internal/media"
	"github.com/arawak/cortado/internal/store"
	"github.com/arawak/cortado/internal/swaggerui"
)

type Server struct {
	cfg     *config.Config
	catalog *catalog.Service
	store   *store.Store
	media   *media.Manager
	apiKeys *APIKeyStore
	logger  *slog.Logger
}

type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details *map[string]any `json:"details,omitempty"`
}

type Health struct {
	Status string `json:"status"`
}

type TagListResponse struct {
	Items    []catalog.TagView `json:"items"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Total    int               `json:"total"`
}

var (
	openapiOnce sync.Once
	openapiData []byte
	openapiErr  error
)

func loadOpenAPI() ([]byte, error) {
	openapiOnce.Do(func() {
		path := filepath.Clean("openapi.yaml")
		openapiData, openapiErr = os.ReadFile(path)
	})
	return openapiData, openapiErr
}

func NewRouter(cfg *config.Config, st *store.Store, svc *catalog.Service, mediaMgr *media.Manager, apiKeys *APIKeyStore, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	s := &Server{cfg: cfg, catalog: svc, store: st, media: mediaMgr, apiKeys: apiKeys, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(loggingMiddleware(logger))

	if len(cfg.CORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "X-Api-Key", "Content-Type", "Accept"},
			AllowCredentials: true,
		})
		r.Use(c.Handler)
	}

	r.Get("/healthz", s.GetHealthz)
	r.Get("/readyz", s.GetReadyz)
	r.Get(cfg.OpenAPIPath, s.serveOpenAPI)
	r.Mount(cfg.SwaggerUIPath, swaggerui.Handler(cfg.OpenAPIPath))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware())
		r.With(s.requirePermissions(PermCanRead)).Get("/api/coffees", s.ListCoffees)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/coffees/search", s.SearchCoffees)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/coffees/{id}", s.GetCoffee)
		r.With(s.requirePermissions(PermCanWrite)).Post("/api/coffees", s.CreateCoffee)
		r.With(s.requirePermissions(PermCanWrite)).Patch("/api/coffees/{id}", s.UpdateCoffee)
		r.With(s.requirePermissions(PermCanDelete)).Delete("/api/coffees/{id}", s.RemoveCoffee)
		r.With(s.requirePermissions(PermCanUpload)).Post("/api/coffees/{id}/image", s.UploadCoffeeImage)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/tags", s.ListTags)
	})

	r.Group(func(r chi.Router) {
		if !cfg.PublicMedia {
			r.Use(s.authMiddleware())
			r.Use(s.requirePermissions(PermCanRead))
		}
		r.Get("/media/{id}/{variant}", s.GetMediaVariant)
	})

	return r
}

func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch s.cfg.AuthMode {
			case config.AuthNone:
				next.ServeHTTP(w, r)
			case config.AuthAPIKey:
				key, ok := s.apiKeys.Lookup(r.Header.Get("X-Api-Key"))
				if !ok {
					writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key", nil)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), newPrincipalFromAPIKey(key))))
			case config.AuthOIDC:
				writeError(w, http.StatusNotImplemented, "not_implemented", "oidc auth mode is not implemented yet", nil)
			default:
				writeError(w, http.StatusUnauthorized, "unauthorized", "auth mode not supported", nil)
			}
		})
	}
}

func (s *Server) requirePermissions(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AuthMode == config.AuthNone {
				next.ServeHTTP(w, r)
				return
			}
			p, _ := PrincipalFromContext(r.Context())
			for _, perm := range perms {
				if !p.HasPermission(perm) {
					writeError(w, http.StatusForbidden, "forbidden", "missing permission "+perm, nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	data, err := loadOpenAPI()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "unable to load openapi.yaml", map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Health{Status: "ok"})
}

func (s *Server) GetReadyz(w http.ResponseWriter, _ *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", map[string]any{"error": err.Error()})
		return
	}
	if err := s.media.IsWritable(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "storage not writable", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Health{Status: "ok"})
}

type coffeeCreatePayload struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	ImageURL    string      `json:"imageUrl"`
	Tags        []string    `json:"tags"`
}

func (s *Server) CreateCoffee(w http.ResponseWriter, r *http.Request) {
	var payload coffeeCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required", nil)
		return
	}
	price, err := decimal.NewFromString(payload.Price.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "price must be a decimal number", nil)
		return
	}

	res, err := s.catalog.Create(r.Context(), catalog.CreateInput{
		Name:        payload.Name,
		Description: payload.Description,
		Price:       price,
		ImageURL:    payload.ImageURL,
		Tags:        payload.Tags,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusBadRequest, "duplicate_name", fmt.Sprintf("coffee with name %q already exists", payload.Name), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to create coffee", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) ListCoffees(w http.ResponseWriter, r *http.Request) {
	coffees, err := s.catalog.FindAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list coffees", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, coffees)
}

func (s *Server) GetCoffee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	coffee, err := s.catalog.FindOne(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "coffee not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch coffee", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, coffee)
}

type coffeeUpdatePayload struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Price       *json.Number `json:"price"`
	ImageURL    *string      `json:"imageUrl"`
	Tags        *[]string    `json:"tags"`
}

func (s *Server) UpdateCoffee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload coffeeUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}

	in := catalog.UpdateInput{
		Name:        payload.Name,
		Description: payload.Description,
		ImageURL:    payload.ImageURL,
		Tags:        payload.Tags,
	}
	if payload.Price != nil {
		price, err := decimal.NewFromString(payload.Price.String())
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "price must be a decimal number", nil)
			return
		}
		in.Price = &price
	}

	res, err := s.catalog.Update(r.Context(), id, in)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "coffee not found", nil)
		case errors.Is(err, store.ErrDuplicateName):
			writeError(w, http.StatusBadRequest, "duplicate_name", "coffee name already exists", nil)
		default:
			writeError(w, http.StatusInternalServerError, "update_failed", "could not update coffee", map[string]any{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) RemoveCoffee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.catalog.Remove(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "coffee not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete coffee", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) SearchCoffees(w http.ResponseWriter, r *http.Request) {
	in, err := parseSearchInput(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	s.logger.Info("search", "name", in.Name, "tags", in.Tags, "limit", in.Limit, "offset", in.Offset)
	res, err := s.catalog.Search(r.Context(), *in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to search", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	size := queryInt(q.Get("pageSize"), 100)
	tags, total, err := s.store.ListTags(r.Context(), q.Get("prefix"), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list tags", map[string]any{"error": err.Error()})
		return
	}
	resp := TagListResponse{Items: make([]catalog.TagView, 0, len(tags)), Page: page, PageSize: size, Total: total}
	for _, t := range tags {
		resp.Items = append(resp.Items, catalog.TagView{ID: t.ID, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) UploadCoffeeImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCoffee(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "coffee not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch coffee", map[string]any{"error": err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to parse multipart", map[string]any{"error": err.Error()})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file is required", nil)
		return
	}
	defer file.Close()

	save, err := s.media.Save(r.Context(), file, s.cfg.MaxUploadBytes, s.cfg.MaxPixels)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, media.ErrTooLarge) || errors.Is(err, media.ErrInvalidImage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "upload_failed", err.Error(), nil)
		return
	}

	imageURL := fmt.Sprintf("/media/%s/content", id)
	if _, err := s.store.UpdateCoffee(r.Context(), id, store.CoffeeUpdate{ImageURL: &imageURL, ImageSHA: &save.SHA256}); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to record image", map[string]any{"error": err.Error()})
		return
	}

	coffee, err := s.catalog.FindOne(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch coffee", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, coffee)
}

func (s *Server) GetMediaVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	variant := chi.URLParam(r, "variant")
	if variant != media.VariantContent && variant != media.VariantThumb {
		writeError(w, http.StatusNotFound, "not_found", "variant not found", nil)
		return
	}

	coffee, err := s.store.GetCoffee(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "not_found", "coffee not found", nil)
		return
	}
	if coffee.ImageSHA == "" {
		writeError(w, http.StatusNotFound, "not_found", "coffee has no image", nil)
		return
	}

	etag := fmt.Sprintf("\"%s-%s\"", coffee.ImageSHA, variant)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	file, err := os.Open(s.media.PathForVariant(coffee.ImageSHA, variant))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "variant not found", nil)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if info, err := file.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	var d *map[string]any
	if details != nil {
		d = &details
	}
	writeJSON(w, status, Error{Code: code, Message: message, Details: d})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
