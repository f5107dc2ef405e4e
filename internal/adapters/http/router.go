package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/kirillkom/ebook-library/internal/config"
	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
	"github.com/kirillkom/ebook-library/internal/observability/metrics"
	"github.com/oapi-codegen/runtime"
)

const (
	bannerText       = "Ebook Library API is running"
	multipartMemory  = 32 << 20
	deletedMessage   = "Ebook deleted successfully"
	defaultServiceID = "ebook-api"
)

type Router struct {
	cfg        config.Config
	intake     ports.EbookIntake
	extraction ports.TextExtractionService
	library    ports.LibraryService
	metrics    *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	intake ports.EbookIntake,
	extraction ports.TextExtractionService,
	library ports.LibraryService,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	if httpMetrics == nil {
		httpMetrics = metrics.NewHTTPServerMetrics(defaultServiceID)
	}
	return &Router{
		cfg:        cfg,
		intake:     intake,
		extraction: extraction,
		library:    library,
		metrics:    httpMetrics,
	}
}

// Handler assembles the route table and the middleware chain. It fails only
// when the embedded OpenAPI document is broken.
func (rt *Router) Handler() (http.Handler, error) {
	validator, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(routeNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.Use(rt.metrics.Middleware(routeTemplate), openAPIValidationMiddleware(validator))

	router.HandleFunc("/", rt.banner).Methods(http.MethodGet)
	router.HandleFunc("/healthz", rt.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)

	// A matched prefix hands misses to the subrouter, not the parent.
	api := router.PathPrefix("/api/ebooks").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(routeNotFound)
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("", rt.listEbooks).Methods(http.MethodGet)
	api.HandleFunc("", rt.uploadEbook).Methods(http.MethodPost)
	api.HandleFunc("/{id}", rt.getEbook).Methods(http.MethodGet)
	api.HandleFunc("/{id}", rt.deleteEbook).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/extract", rt.extractText).Methods(http.MethodGet)
	api.HandleFunc("/{id}/text", rt.cachedText).Methods(http.MethodGet)
	api.HandleFunc("/{id}/download", rt.downloadEbook).Methods(http.MethodGet)

	files := http.StripPrefix("/books/", http.FileServer(http.Dir(rt.cfg.LibraryPath)))
	router.PathPrefix("/books/").Handler(files).Methods(http.MethodGet, http.MethodHead)

	var handler http.Handler = router
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler, rt.cfg.CORSAllowedOrigins)
	return handler, nil
}

func routeNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func (rt *Router) banner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, bannerText)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadEbook(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	book, err := rt.intake.Upload(r.Context(), ports.UploadRequest{
		Title:    r.FormValue("title"),
		Author:   r.FormValue("author"),
		Genre:    r.FormValue("genre"),
		Language: r.FormValue("language"),
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	rt.metrics.RecordUpload(string(book.FileFormat))
	writeJSON(w, http.StatusCreated, book)
}

func (rt *Router) listEbooks(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := 0
	if limit != nil {
		n = *limit
	}
	books, err := rt.library.List(r.Context(), n)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if books == nil {
		books = []domain.Ebook{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (rt *Router) getEbook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	book, err := rt.library.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (rt *Router) deleteEbook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := rt.library.Delete(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": deletedMessage})
}

func (rt *Router) extractText(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var force *bool
	if err := runtime.BindQueryParameter("form", true, false, "force", r.URL.Query(), &force); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := rt.extraction.Extract(r.Context(), id, force != nil && *force)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) cachedText(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := rt.extraction.CachedText(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, result.ExtractedText)
}

func (rt *Router) downloadEbook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	book, body, err := rt.library.OpenFile(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentTypeFor(book.FileFormat))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": downloadName(book),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("download_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"ebook_id", book.ID,
			"error", err,
		)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", mux.Vars(r)["id"], &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, "ebook id is required")
		return "", false
	}
	return id, true
}

func contentTypeFor(format domain.FileFormat) string {
	switch format {
	case domain.FormatEPUB:
		return "application/epub+zip"
	case domain.FormatPDF:
		return "application/pdf"
	case domain.FormatTXT:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func downloadName(book *domain.Ebook) string {
	title := strings.TrimSpace(book.Title)
	if title == "" {
		return filepath.Base(book.FilePath)
	}
	if book.FileFormat == "" {
		return title
	}
	return title + "." + string(book.FileFormat)
}

// respondError logs the full error and sends the client only a fixed message
// per status; wrapped causes may carry filesystem paths.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	logAttrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", logAttrs...)
	} else {
		slog.Warn("request_rejected", logAttrs...)
	}
	writeError(w, status, clientMessage(err, status))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
