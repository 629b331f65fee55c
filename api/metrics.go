package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "tasksync/api"
	metricsEventDomain  = "tasksync"
	metricsEventMessage = "request.metrics"

	listEventName = "tasks.list"
	feedEventName = "tasks.events"
)

// requestMetrics times one request, records it on a span and logs a single
// structured entry when the request completes.
type requestMetrics struct {
	logger     *log.Logger
	name       string
	route      string
	start      time.Time
	span       trace.Span
	stages     map[string]time.Duration
	attrs      map[string]any
	results    int
	errorStage string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, name, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)))
	return &requestMetrics{
		logger: logger,
		name:   name,
		route:  route,
		start:  time.Now(),
		span:   span,
		stages: make(map[string]time.Duration),
		attrs:  make(map[string]any),
	}, ctx
}

func (m *requestMetrics) key(suffix string) string {
	return metricsEventDomain + "." + m.name + "." + suffix
}

// Observe records the duration of a named stage such as fetch or encode.
func (m *requestMetrics) Observe(stage string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.stages[stage] = d
}

func (m *requestMetrics) Set(key string, v any) {
	m.attrs[key] = v
}

func (m *requestMetrics) SetResults(n int) {
	if n < 0 {
		n = 0
	}
	m.results = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	out := map[string]any{
		"http.route":              m.route,
		"http.status_code":        status,
		m.key("total_ms"):         durationToMillis(time.Since(m.start)),
		m.key("results_returned"): m.results,
	}
	for stage, d := range m.stages {
		out[m.key(stage+"_ms")] = durationToMillis(d)
	}
	for k, v := range m.attrs {
		out[m.key(k)] = v
	}
	if m.errorStage != "" {
		out[m.key("error_stage")] = m.errorStage
	}
	if err != nil {
		out["error.message"] = err.Error()
	}
	return out
}

// Log ends the span and writes the metrics entry.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	severity, number := severityForStatus(status, err)

	kvs := toKeyValues(attrs)
	m.span.SetAttributes(kvs...)
	m.span.AddEvent(metricsEventMessage, trace.WithAttributes(append(kvs,
		attribute.String("event.name", m.name),
		attribute.String("event.domain", metricsEventDomain),
		attribute.String("severity_text", severity),
	)...))
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.name,
		"event.domain":    metricsEventDomain,
		"attributes":      attrs,
		"severity_text":   severity,
		"severity_number": number,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(metricsEventMessage)
	case "WARN":
		entry.Warn(metricsEventMessage)
	default:
		entry.Info(metricsEventMessage)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
