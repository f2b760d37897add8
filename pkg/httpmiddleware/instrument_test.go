package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrument_SpanNames(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/getTrackingDetails/{user_id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	h := Wrap(r, Instrument("test", tp, nil, nil))

	for _, path := range []string{"/api/v1/getTrackingDetails/user-42", "/nowhere/user-42"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET /api/v1/getTrackingDetails/{user_id}", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("http.route", "/api/v1/getTrackingDetails/{user_id}"))

	assert.Equal(t, "GET", spans[1].Name())
	for _, s := range spans {
		assert.NotContains(t, s.Name(), "user-42")
	}
}
