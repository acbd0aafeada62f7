package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// shortSessionID truncates session ids for label cardinality, the way
// the dashboards expect them.
func shortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Exporter exposes aggregator snapshots in Prometheus exposition
// format through OpenTelemetry observable instruments. Values are read
// from the current snapshot at scrape time, so scrapes between ticks
// see the last published pass.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewExporter registers the snapshot instruments against a fresh
// Prometheus registry and returns the bridge.
func NewExporter(agg *Aggregator, serviceName, version string) (*Exporter, error) {
	registry := promclient.NewRegistry()
	reader, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("metrics: create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	if err := registerInstruments(provider.Meter("agentwatch/metrics"), agg); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return &Exporter{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler { return e.handler }

// Shutdown flushes and stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func registerInstruments(meter metric.Meter, agg *Aggregator) error {
	var (
		insts []metric.Observable
		errs  []error
	)
	i64 := func(name, desc string) metric.Int64ObservableGauge {
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(desc))
		if err != nil {
			errs = append(errs, err)
		}
		insts = append(insts, g)
		return g
	}
	f64 := func(name, desc string) metric.Float64ObservableGauge {
		g, err := meter.Float64ObservableGauge(name, metric.WithDescription(desc))
		if err != nil {
			errs = append(errs, err)
		}
		insts = append(insts, g)
		return g
	}

	agentInvocations := i64("agent_invocations", "Agent invocations inside the window")
	agentErrors := i64("agent_errors", "Agent invocations that ended in error")
	agentSuccessRate := f64("agent_success_rate", "Per-agent success rate percentage")
	agentAvgDuration := f64("agent_avg_duration_seconds", "Average completed duration per agent")
	agentMaxDuration := f64("agent_max_duration_seconds", "Maximum observed duration per agent")
	agentLastExecution := i64("agent_last_execution_timestamp", "Unix timestamp of the agent's last start")
	agentTokens := i64("agent_total_tokens", "Token count summed over the agent's invocations")

	phaseInvocations := i64("phase_invocations", "Invocations per workflow phase")

	activeSessions := i64("active_sessions", "Sessions currently active")
	totalSessions := i64("total_sessions", "Sessions recorded overall")
	activeInvocations := i64("active_invocations", "Invocations started but not yet ended")
	uniqueAgents := i64("unique_agents", "Distinct agents seen inside the window")
	avgAgentsPerSession := f64("avg_agents_per_session", "Average distinct agents per session with agent activity")

	sessionSuccessRate := f64("session_success_rate", "Per-session success rate percentage")
	sessionErrors := i64("session_error_count", "Errors inside the session")
	sessionAgentTime := f64("session_total_agent_time", "Summed agent execution seconds in the session")
	sessionIdleTime := f64("session_idle_time", "Seconds of session wall clock with no agent running")
	sessionEfficiency := f64("session_efficiency_ratio", "Agent time over session wall clock")
	sessionParallel := i64("session_parallel_factor", "Maximum concurrent other-agent runs in the session")
	sessionDiversity := f64("session_agent_diversity", "Unique agents over total invocations in the session")
	sessionCompletion := i64("session_completion_status", "Session completion class (0 failed, 1 partial, 2 complete)")

	toolUses := i64("agent_tool_uses", "Tool uses per agent and tool")
	toolSuccessRate := f64("agent_tool_success_rate", "Tool success rate per agent and tool")
	toolAvgDuration := f64("agent_tool_duration_seconds", "Average tool duration per agent and tool")
	toolsPerInvocation := f64("tools_per_agent_invocation", "Average tool uses per invocation of the agent")
	toolDiversity := f64("agent_tool_diversity", "Unique tools over total tool uses per agent")

	pairOverlaps := i64("agent_pair_overlaps", "Overlapping runs per unordered agent pair")
	sequenceOccurrences := i64("agent_sequence_occurrences", "Occurrences of mined agent sequences")

	collectionSeconds := f64("snapshot_collection_seconds", "Wall-clock duration of the last collection pass")
	heapAlloc := i64("heap_alloc_bytes", "Heap bytes in use after the last collection pass")

	if len(errs) > 0 {
		return fmt.Errorf("metrics: register instruments: %w", errs[0])
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := agg.Snapshot()

		for _, st := range snap.Agents {
			attrs := metric.WithAttributes(
				attribute.String("agent_name", st.AgentName),
				attribute.String("phase", string(st.Phase)),
			)
			agentAttr := metric.WithAttributes(attribute.String("agent_name", st.AgentName))
			o.ObserveInt64(agentInvocations, st.Invocations, attrs)
			o.ObserveInt64(agentErrors, st.Errors, attrs)
			o.ObserveFloat64(agentSuccessRate, st.SuccessRate, agentAttr)
			o.ObserveFloat64(agentAvgDuration, st.AvgDuration, agentAttr)
			o.ObserveFloat64(agentMaxDuration, st.MaxDuration, agentAttr)
			o.ObserveInt64(agentLastExecution, st.LastExecutedAt, agentAttr)
			o.ObserveInt64(agentTokens, st.TotalTokens, agentAttr)
		}

		for phase, count := range snap.Phases {
			o.ObserveInt64(phaseInvocations, count,
				metric.WithAttributes(attribute.String("phase", string(phase))))
		}

		o.ObserveInt64(activeSessions, snap.ActiveSessions)
		o.ObserveInt64(totalSessions, snap.TotalSessions)
		o.ObserveInt64(activeInvocations, snap.ActiveInvocations)
		o.ObserveInt64(uniqueAgents, snap.UniqueAgents)
		o.ObserveFloat64(avgAgentsPerSession, snap.AvgAgentsPerSession)

		for _, st := range snap.Sessions {
			attrs := metric.WithAttributes(attribute.String("session_id", shortSessionID(st.SessionID)))
			o.ObserveFloat64(sessionSuccessRate, st.SuccessRate, attrs)
			o.ObserveInt64(sessionErrors, st.ErrorCount, attrs)
			o.ObserveFloat64(sessionAgentTime, st.TotalAgentTime, attrs)
			o.ObserveFloat64(sessionIdleTime, st.IdleTime, attrs)
			o.ObserveFloat64(sessionEfficiency, st.Efficiency, attrs)
			o.ObserveInt64(sessionParallel, st.ParallelFactor, attrs)
			o.ObserveFloat64(sessionDiversity, st.Diversity, attrs)

			var class int64
			switch st.Completion {
			case CompletionComplete:
				class = 2
			case CompletionPartial:
				class = 1
			}
			o.ObserveInt64(sessionCompletion, class, metric.WithAttributes(
				attribute.String("session_id", shortSessionID(st.SessionID)),
				attribute.String("status", st.Completion),
			))
		}

		for _, st := range snap.Tools {
			attrs := metric.WithAttributes(
				attribute.String("agent_name", st.AgentName),
				attribute.String("tool_name", st.ToolName),
			)
			o.ObserveInt64(toolUses, st.Uses, attrs)
			o.ObserveFloat64(toolSuccessRate, st.SuccessRate, attrs)
			o.ObserveFloat64(toolAvgDuration, st.AvgDuration, attrs)
		}
		for _, profile := range snap.AgentTools {
			attrs := metric.WithAttributes(attribute.String("agent_name", profile.AgentName))
			o.ObserveFloat64(toolsPerInvocation, profile.ToolsPerInvocation, attrs)
			o.ObserveFloat64(toolDiversity, profile.ToolDiversity, attrs)
		}

		for _, ov := range snap.Overlaps {
			o.ObserveInt64(pairOverlaps, ov.Count, metric.WithAttributes(
				attribute.String("agent_a", ov.AgentA),
				attribute.String("agent_b", ov.AgentB),
			))
		}
		for _, seq := range snap.Sequences {
			o.ObserveInt64(sequenceOccurrences, seq.Count, metric.WithAttributes(
				attribute.String("sequence", strings.Join(seq.Agents, " -> ")),
			))
		}

		o.ObserveFloat64(collectionSeconds, snap.Elapsed.Seconds())
		o.ObserveInt64(heapAlloc, int64(snap.HeapAllocBytes))
		return nil
	}, insts...)
	if err != nil {
		return fmt.Errorf("metrics: register callback: %w", err)
	}
	return nil
}
