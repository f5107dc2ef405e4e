package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareLabelsByRoute(t *testing.T) {
	m := NewHTTPServerMetrics("ebook-api")
	handler := m.Middleware(func(*http.Request) string {
		return "/api/ebooks/{id}"
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, id := range []string{"a", "b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ebooks/"+id, nil))
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("ebook-api", http.MethodGet, "/api/ebooks/{id}", "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests on the template label, got %v", got)
	}
	if n := testutil.CollectAndCount(m.requestTotal); n != 1 {
		t.Fatalf("expected a single series, got %d", n)
	}
	if v := testutil.ToFloat64(m.requestInFlight); v != 0 {
		t.Fatalf("expected in-flight gauge back at 0, got %v", v)
	}
}

func TestHTTPMiddlewareUnmatchedRoute(t *testing.T) {
	m := NewHTTPServerMetrics("ebook-api")
	handler := m.Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("ebook-api", http.MethodGet, "unmatched", "200")); got != 1 {
		t.Fatalf("expected unmatched label, got %v", got)
	}
}

func TestMetricsHandlerExposesSharedRegistry(t *testing.T) {
	m := NewHTTPServerMetrics("ebook-api")
	ex := NewExtractionMetrics("ebook-api", m.Registerer())
	ex.RecordExtraction("parse", 2048, 150*time.Millisecond, nil)
	m.RecordUpload("epub")

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	for _, name := range []string{
		"library_extraction_requests_total",
		"library_extraction_text_bytes",
		"library_intake_uploads_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}

func TestExtractionMetricsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("ebook-api")
	ex := NewExtractionMetrics("ebook-api", m.Registerer())

	ex.RecordExtraction("cache", 10, time.Millisecond, nil)
	ex.RecordExtraction("parse", 0, time.Second, errors.New("corrupt"))
	ex.RecordExtraction("", 0, time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(ex.total.WithLabelValues("ebook-api", "cache", "success")); got != 1 {
		t.Fatalf("expected one cache success, got %v", got)
	}
	if got := testutil.ToFloat64(ex.total.WithLabelValues("ebook-api", "parse", "error")); got != 1 {
		t.Fatalf("expected one parse error, got %v", got)
	}
	if got := testutil.ToFloat64(ex.total.WithLabelValues("ebook-api", "unknown", "error")); got != 1 {
		t.Fatalf("expected unknown source label, got %v", got)
	}
}

func TestWorkerMetricsLifecycle(t *testing.T) {
	m := NewWorkerMetrics("ebook-worker")

	m.StartEbook()
	if v := testutil.ToFloat64(m.processInFlight); v != 1 {
		t.Fatalf("expected in-flight 1, got %v", v)
	}
	m.FinishEbook(time.Second, errors.New("boom"))
	m.StartEbook()
	m.FinishEbook(time.Second, nil)
	m.ObserveEventLag(-time.Second)
	m.ObserveEventLag(2 * time.Second)

	if v := testutil.ToFloat64(m.processInFlight); v != 0 {
		t.Fatalf("expected in-flight 0, got %v", v)
	}
	if v := testutil.ToFloat64(m.processTotal.WithLabelValues("ebook-worker", "error")); v != 1 {
		t.Fatalf("expected one error, got %v", v)
	}
	if v := testutil.ToFloat64(m.processTotal.WithLabelValues("ebook-worker", "success")); v != 1 {
		t.Fatalf("expected one success, got %v", v)
	}
	if n := testutil.CollectAndCount(m.eventLag); n != 1 {
		t.Fatalf("expected lag histogram to be collected, got %d", n)
	}
}
