package isolation

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is the latency above which a tenant-scoped statement
// is reported by the performance rule.
const DefaultSlowThreshold = time.Second

// Rule identifiers.
const (
	RuleTenantFilter = "tenant_filter" // A
	RuleSharedJoin   = "shared_join"   // B
	RuleSlowQuery    = "slow_query"    // C
)

type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Operation is one statement observed on a namespace.
type Operation struct {
	Namespace string
	SQL       string
	Duration  time.Duration
	Err       error
}

type Finding struct {
	Rule      string
	Severity  Severity
	Model     string
	Action    string
	Detail    string
	Namespace string
}

// Sink receives findings. Implementations must not block.
type Sink interface {
	Report(f Finding)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Finding)

func (fn SinkFunc) Report(f Finding) { fn(f) }

var findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ilpi_isolation_findings_total",
	Help: "Isolation monitor findings by rule, severity and model",
}, []string{"rule", "severity", "model"})

// LogSink writes findings as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "isolation_monitor").Logger()}
}

func (s *LogSink) Report(f Finding) {
	evt := s.logger.Warn()
	if f.Severity == SeverityError {
		evt = s.logger.Error()
	}
	evt.Str("type", "isolation_finding").
		Str("rule", f.Rule).
		Str("severity", string(f.Severity)).
		Str("model", f.Model).
		Str("action", f.Action).
		Str("namespace", f.Namespace).
		Str("detail", f.Detail).
		Msg("isolation_finding")
}

type Option func(*Monitor)

// WithSlowThreshold overrides DefaultSlowThreshold. Non-positive values are ignored.
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.slow = d
		}
	}
}

// WithSink adds a sink next to the log sink.
func WithSink(s Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, s) }
}

// Monitor applies the isolation rules to observed operations.
type Monitor struct {
	classifier *Classifier
	slow       time.Duration
	sinks      []Sink
	logger     zerolog.Logger
}

func NewMonitor(classifier *Classifier, logger zerolog.Logger, opts ...Option) *Monitor {
	if classifier == nil {
		classifier = NewClassifier(DefaultClassification)
	}
	m := &Monitor{
		classifier: classifier,
		slow:       DefaultSlowThreshold,
		logger:     logger,
	}
	m.sinks = []Sink{NewLogSink(logger)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) SlowThreshold() time.Duration { return m.slow }

// Inspect returns the findings for op without reporting them.
func (m *Monitor) Inspect(op Operation) []Finding {
	st := Parse(op.SQL)
	if st.Model == "" {
		return nil
	}
	scope := m.classifier.Scope(st.Model)

	var out []Finding
	add := func(rule string, sev Severity, detail string) {
		out = append(out, Finding{
			Rule:      rule,
			Severity:  sev,
			Model:     st.Model,
			Action:    st.Action,
			Detail:    detail,
			Namespace: op.Namespace,
		})
	}

	switch scope {
	case TenantScoped:
		if st.TenantFilter {
			add(RuleTenantFilter, SeverityWarn,
				fmt.Sprintf("%s on %s filters by tenant id; namespace isolation already scopes the rows", st.Action, st.Model))
		}
		if op.Duration > m.slow {
			add(RuleSlowQuery, SeverityWarn,
				fmt.Sprintf("%s on %s took %s (threshold %s); possible scan of the wrong namespace", st.Action, st.Model, op.Duration.Round(time.Millisecond), m.slow))
		}
	case Shared:
		for _, rel := range st.Joins {
			if m.classifier.LooksTenantScoped(rel) {
				add(RuleSharedJoin, SeverityError,
					fmt.Sprintf("shared %s joins tenant-scoped relation %s; cross-namespace joins cannot be satisfied", st.Model, rel))
			}
		}
	}
	return out
}

// Observe reports the findings for op. It never panics and never fails.
func (m *Monitor) Observe(op Operation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("isolation monitor recovered")
		}
	}()

	for _, f := range m.Inspect(op) {
		findingsTotal.WithLabelValues(f.Rule, string(f.Severity), f.Model).Inc()
		for _, s := range m.sinks {
			s.Report(f)
		}
	}
}
