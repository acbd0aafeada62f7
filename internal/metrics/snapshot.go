// Package metrics recomputes a bounded statistics snapshot from the
// event store on a fixed cadence. Every pass derives the full snapshot
// fresh from current data, so a missed tick or a crash never leaves
// stale partial state behind.
package metrics

import (
	"time"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// AgentStats aggregates one agent's invocations inside the window.
type AgentStats struct {
	AgentName      string       `json:"agent_name"`
	Phase          models.Phase `json:"phase"`
	Invocations    int64        `json:"invocations"`
	Completed      int64        `json:"completed"`
	Errors         int64        `json:"errors"`
	SuccessRate    float64      `json:"success_rate"`
	AvgDuration    float64      `json:"avg_duration_seconds"`
	MaxDuration    float64      `json:"max_duration_seconds"`
	TotalTokens    int64        `json:"total_tokens"`
	LastExecutedAt int64        `json:"last_executed_at_epoch"`
}

// SessionStats aggregates one session inside the session window.
type SessionStats struct {
	SessionID       string  `json:"session_id"`
	StartedAtEpoch  int64   `json:"started_at_epoch"`
	DurationSecs    float64 `json:"duration_seconds"`
	AgentsTotal     int64   `json:"agents_total"`
	UniqueAgents    int64   `json:"unique_agents"`
	PhasesCompleted int64   `json:"phases_completed"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorCount      int64   `json:"error_count"`
	TotalAgentTime  float64 `json:"total_agent_time_seconds"`
	IdleTime        float64 `json:"idle_time_seconds"`
	Efficiency      float64 `json:"efficiency_ratio"`
	ParallelFactor  int64   `json:"parallel_factor"`
	Diversity       float64 `json:"agent_diversity"`
	FirstAgent      string  `json:"first_agent,omitempty"`
	Completion      string  `json:"completion_status"`
}

// Session completion classification from its in-window success rate.
const (
	CompletionComplete = "complete"
	CompletionPartial  = "partial"
	CompletionFailed   = "failed"
)

// ToolStats aggregates tool activity for one (agent, tool) pair.
type ToolStats struct {
	AgentName   string  `json:"agent_name"`
	ToolName    string  `json:"tool_name"`
	Uses        int64   `json:"uses"`
	Errors      int64   `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// AgentToolProfile summarizes an agent's overall tool behavior.
type AgentToolProfile struct {
	AgentName          string  `json:"agent_name"`
	ToolsPerInvocation float64 `json:"tools_per_invocation"`
	ToolDiversity      float64 `json:"tool_diversity"`
	PrimaryTool        string  `json:"primary_tool,omitempty"`
}

// SequenceCount is one mined agent n-gram with its occurrence count.
type SequenceCount struct {
	Agents []string `json:"agents"`
	Count  int64    `json:"count"`
}

// OverlapCount counts overlapping runs for one unordered agent pair.
// AgentA sorts before AgentB so each pair appears exactly once.
type OverlapCount struct {
	AgentA string `json:"agent_a"`
	AgentB string `json:"agent_b"`
	Count  int64  `json:"count"`
}

// Bottleneck flags an agent whose average completed duration exceeds
// the configured threshold.
type Bottleneck struct {
	AgentName   string  `json:"agent_name"`
	AvgDuration float64 `json:"avg_duration_seconds"`
	Completed   int64   `json:"completed"`
}

// Snapshot is one full recomputation of all aggregates. Instances are
// immutable once published; readers hold a consistent view for as long
// as they keep the pointer.
type Snapshot struct {
	CollectionID string        `json:"collection_id"`
	CollectedAt  time.Time     `json:"collected_at"`
	Elapsed      time.Duration `json:"elapsed"`

	Agents      map[string]*AgentStats       `json:"agents"`
	Phases      map[models.Phase]int64       `json:"phases"`
	Sessions    map[string]*SessionStats     `json:"sessions"`
	Tools       map[string]*ToolStats        `json:"tools"`
	AgentTools  map[string]*AgentToolProfile `json:"agent_tools"`
	Sequences   []SequenceCount              `json:"sequences"`
	Overlaps    []OverlapCount               `json:"overlaps"`
	Bottlenecks []Bottleneck                 `json:"bottlenecks"`

	ActiveSessions      int64   `json:"active_sessions"`
	TotalSessions       int64   `json:"total_sessions"`
	ActiveInvocations   int64   `json:"active_invocations"`
	UniqueAgents        int64   `json:"unique_agents"`
	AvgAgentsPerSession float64 `json:"avg_agents_per_session"`

	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
}

// emptySnapshot returns a snapshot with every map allocated so readers
// never see nil sections.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Agents:     make(map[string]*AgentStats),
		Phases:     make(map[models.Phase]int64),
		Sessions:   make(map[string]*SessionStats),
		Tools:      make(map[string]*ToolStats),
		AgentTools: make(map[string]*AgentToolProfile),
	}
}
