package sqlite

import (
	"context"
	"fmt"
)

// AnalyticsStore provides the aggregate queries behind the operator
// report surface. These run unwindowed and are only reached from the
// CLI, never from the per-tick aggregator.
type AnalyticsStore struct {
	store *Store
}

// NewAnalyticsStore creates a new analytics store.
func NewAnalyticsStore(store *Store) *AnalyticsStore {
	return &AnalyticsStore{store: store}
}

// AgentCount is an agent with its invocation count.
type AgentCount struct {
	AgentName string
	Count     int64
}

// AgentDuration is an agent with its average completed duration.
type AgentDuration struct {
	AgentName   string
	AvgDuration float64
}

// PhaseCount is a workflow phase with its invocation count.
type PhaseCount struct {
	Phase string
	Count int64
}

// Pattern is a consecutive agent pair and how often it occurred.
type Pattern struct {
	Pattern     string
	Occurrences int64
}

// Bottleneck is an agent whose average completed duration crossed the
// reporting threshold.
type Bottleneck struct {
	AgentName   string
	MaxDuration float64
	AvgDuration float64
	Count       int64
}

// AgentFrequency returns invocation counts per agent, most used first.
func (s *AnalyticsStore) AgentFrequency(ctx context.Context) ([]AgentCount, error) {
	const query = `
		SELECT agent_name, COUNT(*) AS count
		FROM agent_invocations
		WHERE agent_name != 'unknown'
		GROUP BY agent_name
		ORDER BY count DESC
	`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: agent frequency: %w", err)
	}
	defer rows.Close()

	var out []AgentCount
	for rows.Next() {
		var ac AgentCount
		if err := rows.Scan(&ac.AgentName, &ac.Count); err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// AgentDurations returns average completed durations per agent, slowest first.
func (s *AnalyticsStore) AgentDurations(ctx context.Context) ([]AgentDuration, error) {
	const query = `
		SELECT agent_name, AVG(duration_seconds) AS avg_duration
		FROM agent_invocations
		WHERE ended_at IS NOT NULL AND duration_seconds IS NOT NULL AND agent_name != 'unknown'
		GROUP BY agent_name
		ORDER BY avg_duration DESC
	`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: agent durations: %w", err)
	}
	defer rows.Close()

	var out []AgentDuration
	for rows.Next() {
		var ad AgentDuration
		if err := rows.Scan(&ad.AgentName, &ad.AvgDuration); err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

// PhaseDistribution returns invocation counts per phase, excluding unknown.
func (s *AnalyticsStore) PhaseDistribution(ctx context.Context) ([]PhaseCount, error) {
	const query = `
		SELECT phase, COUNT(*) AS count
		FROM agent_invocations
		WHERE phase != 'unknown'
		GROUP BY phase
		ORDER BY count DESC
	`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: phase distribution: %w", err)
	}
	defer rows.Close()

	var out []PhaseCount
	for rows.Next() {
		var pc PhaseCount
		if err := rows.Scan(&pc.Phase, &pc.Count); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Patterns returns consecutive agent pairs occurring at least
// minOccurrences times across all sessions, most frequent first.
func (s *AnalyticsStore) Patterns(ctx context.Context, minOccurrences int) ([]Pattern, error) {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}
	const query = `
		WITH agent_sequences AS (
			SELECT session_id, agent_name,
			       LAG(agent_name) OVER (PARTITION BY session_id ORDER BY started_at_epoch, id) AS prev_agent
			FROM agent_invocations
			WHERE agent_name != 'unknown'
		)
		SELECT prev_agent || ' -> ' || agent_name AS pattern, COUNT(*) AS occurrences
		FROM agent_sequences
		WHERE prev_agent IS NOT NULL
		GROUP BY pattern
		HAVING occurrences >= ?
		ORDER BY occurrences DESC
		LIMIT 20
	`
	rows, err := s.store.QueryContext(ctx, query, minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("sqlite: patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.Pattern, &p.Occurrences); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Bottlenecks returns agents whose average completed duration exceeds
// thresholdSecs, slowest first.
func (s *AnalyticsStore) Bottlenecks(ctx context.Context, thresholdSecs float64) ([]Bottleneck, error) {
	const query = `
		SELECT agent_name,
		       MAX(duration_seconds) AS max_duration,
		       AVG(duration_seconds) AS avg_duration,
		       COUNT(*) AS invocation_count
		FROM agent_invocations
		WHERE ended_at IS NOT NULL AND duration_seconds IS NOT NULL AND agent_name != 'unknown'
		GROUP BY agent_name
		HAVING avg_duration > ?
		ORDER BY avg_duration DESC
	`
	rows, err := s.store.QueryContext(ctx, query, thresholdSecs)
	if err != nil {
		return nil, fmt.Errorf("sqlite: bottlenecks: %w", err)
	}
	defer rows.Close()

	var out []Bottleneck
	for rows.Next() {
		var b Bottleneck
		if err := rows.Scan(&b.AgentName, &b.MaxDuration, &b.AvgDuration, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
