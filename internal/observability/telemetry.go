// Package observability provides logging, metrics, and tracing for cloudgate.
package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Telemetry provides unified observability for cloudgate.
type Telemetry struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	config       Config
	shutdownOnce sync.Once
	shutdownFns  []func(context.Context) error
}

// Config configures telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Logging
	LogLevel  string
	LogFormat string // json, console

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
	SamplingRate   float64

	// Metrics
	MetricsEnabled bool
}

// Metrics holds the Prometheus metrics for cloudgate.
type Metrics struct {
	// Gateway metrics
	CommandsExecuted *prometheus.CounterVec
	CommandsDenied   *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	AuthErrors       *prometheus.CounterVec
	Timeouts         *prometheus.CounterVec
	OutputTruncated  *prometheus.CounterVec

	// Playbook metrics
	PlaybookExecutions *prometheus.CounterVec
	PlaybookDuration   *prometheus.HistogramVec
	ActionsRun         *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Telemetry instance.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{config: cfg}

	logger, err := t.initLogger()
	if err != nil {
		return nil, err
	}
	t.logger = logger

	if cfg.TracingEnabled {
		if err := t.initTracer(); err != nil {
			logger.Warn("Failed to initialize tracer", zap.Error(err))
		}
	}
	t.tracer = otel.Tracer(cfg.ServiceName)

	if cfg.MetricsEnabled {
		t.metrics = newMetrics()
	}

	return t, nil
}

// Logger returns the structured logger.
func (t *Telemetry) Logger() *zap.Logger { return t.logger }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// Metrics returns the metric set; nil when metrics are disabled.
func (t *Telemetry) Metrics() *Metrics { return t.metrics }

// Shutdown flushes the logger and stops exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		t.logger.Sync()
		for _, fn := range t.shutdownFns {
			if e := fn(ctx); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}

// initLogger initializes structured logging.
func (t *Telemetry) initLogger() (*zap.Logger, error) {
	var config zap.Config

	if t.config.LogFormat == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch t.config.LogLevel {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": t.config.ServiceName,
		"version": t.config.ServiceVersion,
	}

	return config.Build()
}

// initTracer initializes OpenTelemetry tracing.
func (t *Telemetry) initTracer() error {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(t.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.config.ServiceName),
			semconv.ServiceVersion(t.config.ServiceVersion),
			attribute.String("component", "cloudgate"),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.shutdownFns = append(t.shutdownFns, tp.Shutdown)
	return nil
}

func newMetrics() *Metrics {
	return &Metrics{
		CommandsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_commands_executed_total",
			Help: "Commands executed per provider and result status",
		}, []string{"provider", "status"}),
		CommandsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_commands_denied_total",
			Help: "Commands rejected with a validation error per provider; the category label is always \"validation\"",
		}, []string{"provider", "category"}),
		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudgate_command_duration_seconds",
			Help:    "Wall clock of executed commands",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		AuthErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_auth_errors_total",
			Help: "Provider credential failures",
		}, []string{"provider"}),
		Timeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_command_timeouts_total",
			Help: "Commands terminated by the wall-clock deadline",
		}, []string{"provider"}),
		OutputTruncated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_output_truncated_total",
			Help: "Commands whose stdout hit the byte cap",
		}, []string{"provider"}),
		PlaybookExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_playbook_executions_total",
			Help: "Playbook executions by status, counted on submit and on approval",
		}, []string{"playbook", "status"}),
		PlaybookDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudgate_playbook_duration_seconds",
			Help:    "Duration of playbook executions",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"playbook"}),
		ActionsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_playbook_actions_total",
			Help: "Playbook actions by kind and status",
		}, []string{"kind", "status"}),
		Rollbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_playbook_rollbacks_total",
			Help: "Playbook rollbacks, clean or dirty",
		}, []string{"playbook", "dirty"}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudgate_api_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudgate_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
