package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestMetricsLogProducesEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, listEventName, "/tasks")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.Observe("fetch", 15*time.Millisecond)
	metrics.Observe("encode", 0)
	metrics.Set("filtered", true)
	metrics.SetResults(3)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != metricsEventMessage {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Level != log.InfoLevel || entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v %v", entry.Level, entry.Data)
	}
	if entry.Data["event.name"] != listEventName || entry.Data["event.domain"] != metricsEventDomain {
		t.Fatalf("unexpected event identity: %v", entry.Data)
	}
	if _, ok := entry.Data["trace_id"]; !ok {
		t.Fatalf("expected trace id on entry")
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["http.route"] != "/tasks" || attrs["tasksync.tasks.list.results_returned"] != 3 || attrs["tasksync.tasks.list.filtered"] != true {
		t.Fatalf("unexpected attributes: %#v", attrs)
	}
	if attrs["tasksync.tasks.list.fetch_ms"] != 15.0 {
		t.Fatalf("unexpected fetch duration: %#v", attrs["tasksync.tasks.list.fetch_ms"])
	}
	if _, ok := attrs["tasksync.tasks.list.encode_ms"]; ok {
		t.Fatalf("zero stage must not be recorded")
	}
	if total, _ := attrs["tasksync.tasks.list.total_ms"].(float64); total < 50 {
		t.Fatalf("unexpected total duration: %v", attrs["tasksync.tasks.list.total_ms"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != listEventName || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span: %s %v", span.Name, span.Status)
	}
	if len(span.Events) != 1 || span.Events[0].Name != metricsEventMessage {
		t.Fatalf("expected metrics span event, got %+v", span.Events)
	}
	eventAttrs := attributesToMap(span.Events[0].Attributes)
	if eventAttrs["event.domain"] != metricsEventDomain || eventAttrs["severity_text"] != "INFO" {
		t.Fatalf("unexpected span event attributes: %#v", eventAttrs)
	}
}

func TestRequestMetricsSeverity(t *testing.T) {
	testCases := map[string]struct {
		status   int
		err      error
		severity string
		level    log.Level
		code     codes.Code
	}{
		"ok":           {status: http.StatusOK, severity: "INFO", level: log.InfoLevel, code: codes.Ok},
		"client error": {status: http.StatusNotAcceptable, severity: "WARN", level: log.WarnLevel, code: codes.Ok},
		"server error": {status: http.StatusInternalServerError, severity: "ERROR", level: log.ErrorLevel, code: codes.Error},
		"handler err":  {status: http.StatusOK, err: errors.New("boom"), severity: "ERROR", level: log.ErrorLevel, code: codes.Error},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			_, exporter, restore := setupTestTracer(t)
			defer restore()

			metrics, _ := newRequestMetrics(context.Background(), logger, feedEventName, "/tasks/events")
			metrics.SetErrorStage("storage")
			metrics.Log(tc.status, tc.err)

			entry := hook.LastEntry()
			if entry.Level != tc.level || entry.Data["severity_text"] != tc.severity {
				t.Fatalf("unexpected severity %v %v", entry.Level, entry.Data["severity_text"])
			}
			attrs := entry.Data["attributes"].(map[string]any)
			if attrs["tasksync.tasks.events.error_stage"] != "storage" {
				t.Fatalf("missing error stage: %#v", attrs)
			}
			if tc.err != nil && attrs["error.message"] != tc.err.Error() {
				t.Fatalf("missing error message: %#v", attrs)
			}
			if spans := exporter.GetSpans(); len(spans) != 1 || spans[0].Status.Code != tc.code {
				t.Fatalf("unexpected span status: %+v", spans)
			}
		})
	}
}

func TestRequestMetricsNilIsSafe(t *testing.T) {
	var m *requestMetrics
	m.Log(http.StatusOK, nil)
}

func TestEventsRequestIsTraced(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	s := newStack(t)
	s.seed(t, "Ship report", "2024-06-01")
	s.hook.Reset()

	rec := s.do(http.MethodGet, "/tasks/events?start=2024-06-01", "", acceptJSON)
	expectStatus(t, rec, http.StatusOK)
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != feedEventName {
		t.Fatalf("expected the feed span, got %+v", spans)
	}
	attrs := attributesToMap(spans[0].Attributes)
	if attrs["http.route"] != "/tasks/events" || attrs["http.status_code"] != int64(http.StatusOK) {
		t.Fatalf("unexpected span attributes: %#v", attrs)
	}
	if attrs["tasksync.tasks.events.results_returned"] != int64(1) || attrs["tasksync.tasks.events.start_provided"] != true {
		t.Fatalf("unexpected feed attributes: %#v", attrs)
	}

	entry := s.hook.LastEntry()
	if entry == nil || entry.Message != metricsEventMessage || entry.Data["span_id"] != spans[0].SpanContext.SpanID().String() {
		t.Fatalf("log entry not correlated with span: %+v", entry)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
