package metrics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/correlate"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/pkg/models"
)

type AggregatorSuite struct {
	suite.Suite
	ctx         context.Context
	store       *sqlite.Store
	sessions    *sqlite.SessionStore
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore
	agg         *Aggregator
}

func (s *AggregatorSuite) SetupTest() {
	s.ctx = context.Background()

	var err error
	s.store, err = sqlite.NewStore(sqlite.StoreConfig{
		Path:     filepath.Join(s.T().TempDir(), "test.db"),
		MaxConns: 2,
		WALMode:  true,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = s.store.Close() })

	s.sessions = sqlite.NewSessionStore(s.store)
	s.invocations = sqlite.NewInvocationStore(s.store)
	s.toolUses = sqlite.NewToolUseStore(s.store)
	s.agg = NewAggregator(s.store, config.Default())
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

// seedInv inserts an invocation starting at the given offset before now.
// A negative duration leaves the invocation open.
func (s *AggregatorSuite) seedInv(sessionID, agent string, ago time.Duration, durSecs float64, status models.InvocationStatus) int64 {
	s.T().Helper()
	start := time.Now().Add(-ago)
	id, err := s.invocations.Insert(s.ctx, &models.Invocation{
		SessionID:      sessionID,
		AgentName:      agent,
		Phase:          correlate.ClassifyAgent(agent),
		Prompt:         "seed",
		StartedAt:      start.Format(time.RFC3339Nano),
		StartedAtEpoch: start.UnixMilli(),
	})
	s.Require().NoError(err)
	if durSecs >= 0 {
		end := start.Add(time.Duration(durSecs * float64(time.Second)))
		s.Require().NoError(s.invocations.Complete(s.ctx, id, end,
			sql.NullFloat64{Float64: durSecs, Valid: true}, status, "", sql.NullInt64{}, "", ""))
	}
	return id
}

func (s *AggregatorSuite) seedSession(sessionID string, ago, length time.Duration) {
	s.T().Helper()
	start := time.Now().Add(-ago)
	s.Require().NoError(s.sessions.RecordStart(s.ctx, sessionID, "/work", "", start))
	if length > 0 {
		s.Require().NoError(s.sessions.RecordEnd(s.ctx, sessionID, start.Add(length)))
	}
}

func (s *AggregatorSuite) TestEmptyStore() {
	snap := s.agg.Collect(s.ctx)

	s.NotEmpty(snap.CollectionID)
	s.Empty(snap.Agents)
	s.Empty(snap.Sessions)
	s.Zero(snap.TotalSessions)
	s.NotNil(snap.Tools, "maps must be allocated even when empty")
}

func (s *AggregatorSuite) TestAgentSuccessRateUsesFullDenominator() {
	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 10, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 50*time.Minute, 20, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 40*time.Minute, 5, models.InvocationStatusError)
	s.seedInv("s1", "architect", 30*time.Minute, -1, "") // still open

	snap := s.agg.Collect(s.ctx)

	st := snap.Agents["architect"]
	s.Require().NotNil(st)
	s.Equal(int64(4), st.Invocations)
	s.Equal(int64(2), st.Completed)
	s.Equal(int64(1), st.Errors)
	// Open and errored runs stay in the denominator.
	s.InDelta(50.0, st.SuccessRate, 0.001)
	s.InDelta(float64(10+20+5)/3, st.AvgDuration, 0.001)
	s.InDelta(20.0, st.MaxDuration, 0.001)
	s.Equal(models.PhasePlanning, st.Phase)
}

func (s *AggregatorSuite) TestPhaseDistributionExcludesUnknown() {
	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "mystery-agent", time.Hour, 1, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)

	s.Equal(int64(1), snap.Phases[models.PhasePlanning])
	s.Equal(int64(1), snap.Phases[models.PhaseDevelopment])
	s.NotContains(snap.Phases, models.PhaseUnknown)
	s.Equal(int64(3), snap.UniqueAgents)
}

func (s *AggregatorSuite) TestSequenceMiningFirstSeenTieBreak() {
	s.seedSession("s1", 2*time.Hour, 0)
	s.seedSession("s2", 2*time.Hour, 0)

	// s1 yields gram A: architect -> backend-developer -> test-developer.
	s.seedInv("s1", "architect", 120*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 110*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "test-developer", 100*time.Minute, 1, models.InvocationStatusCompleted)

	// s2 yields gram B with the same count of one.
	s.seedInv("s2", "jira-analyst", 90*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s2", "architect", 80*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s2", "pr-creator", 70*time.Minute, 1, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)

	s.Require().Len(snap.Sequences, 2)
	s.Equal([]string{"architect", "backend-developer", "test-developer"}, snap.Sequences[0].Agents)
	s.Equal(int64(1), snap.Sequences[0].Count)
	s.Equal([]string{"jira-analyst", "architect", "pr-creator"}, snap.Sequences[1].Agents)
}

func (s *AggregatorSuite) TestSequencesDoNotCrossSessions() {
	// One invocation per session: no session reaches gram length.
	s.seedSession("s1", time.Hour, 0)
	s.seedSession("s2", time.Hour, 0)
	s.seedSession("s3", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s2", "backend-developer", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s3", "test-developer", time.Hour, 1, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)
	s.Empty(snap.Sequences)
}

func (s *AggregatorSuite) TestOverlapsClosedIntervalUnorderedPair() {
	s.seedSession("s1", time.Hour, 0)
	// backend runs 60m..50m ago; architect 55m..45m ago: they overlap.
	s.seedInv("s1", "backend-developer", 60*time.Minute, 600, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 55*time.Minute, 600, models.InvocationStatusCompleted)
	// test-developer runs entirely after both.
	s.seedInv("s1", "test-developer", 10*time.Minute, 60, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)

	s.Require().Len(snap.Overlaps, 1)
	ov := snap.Overlaps[0]
	s.Equal("architect", ov.AgentA, "pair must be reported in sorted order")
	s.Equal("backend-developer", ov.AgentB)
	s.Equal(int64(1), ov.Count)
}

func (s *AggregatorSuite) TestOverlapIgnoresSameAgentAndOpenRuns() {
	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", 60*time.Minute, 600, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 55*time.Minute, 600, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 58*time.Minute, -1, "") // open, no interval

	snap := s.agg.Collect(s.ctx)
	s.Empty(snap.Overlaps)
}

func (s *AggregatorSuite) TestBottlenecks() {
	s.agg.cfg.BottleneckSecs = 10

	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 30, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", time.Hour, 5, models.InvocationStatusCompleted)
	// Slow but never completed: not a bottleneck.
	s.seedInv("s1", "test-developer", time.Hour, 99, models.InvocationStatusError)

	snap := s.agg.Collect(s.ctx)

	s.Require().Len(snap.Bottlenecks, 1)
	s.Equal("architect", snap.Bottlenecks[0].AgentName)
	s.InDelta(30.0, snap.Bottlenecks[0].AvgDuration, 0.001)
	s.Equal(int64(1), snap.Bottlenecks[0].Completed)
}

func (s *AggregatorSuite) TestSessionDetail() {
	s.seedSession("s1", time.Hour, 40*time.Minute)
	s.seedInv("s1", "architect", 60*time.Minute, 600, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 45*time.Minute, 300, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 35*time.Minute, 300, models.InvocationStatusError)

	snap := s.agg.Collect(s.ctx)

	st := snap.Sessions["s1"]
	s.Require().NotNil(st)
	s.Equal(int64(3), st.AgentsTotal)
	s.Equal(int64(2), st.UniqueAgents)
	s.InDelta(2.0/3.0, st.Diversity, 0.001)
	s.InDelta(2.0/3.0*100, st.SuccessRate, 0.001)
	s.Equal(int64(1), st.ErrorCount)
	s.Equal("architect", st.FirstAgent)
	s.InDelta(2400, st.DurationSecs, 1)
	s.InDelta(1200, st.TotalAgentTime, 0.001)
	s.InDelta(1200.0/2400.0, st.Efficiency, 0.01)
	s.InDelta(1200, st.IdleTime, 1)
	s.InDelta(2.0, snap.AvgAgentsPerSession, 0.001)
}

func (s *AggregatorSuite) TestAvgAgentsPerSessionCountsDistinctAgents() {
	// Three distinct agents in s1 despite four invocations.
	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 50*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 40*time.Minute, 1, models.InvocationStatusCompleted)
	s.seedInv("s1", "test-developer", 30*time.Minute, 1, models.InvocationStatusCompleted)

	// One distinct agent in s2. The unknown sentinel never counts.
	s.seedSession("s2", time.Hour, 0)
	s.seedInv("s2", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("s2", models.UnknownAgentName, 55*time.Minute, 1, models.InvocationStatusCompleted)

	// Only-unknown and idle sessions are excluded from the average.
	s.seedSession("mystery", time.Hour, 0)
	s.seedInv("mystery", models.UnknownAgentName, time.Hour, 1, models.InvocationStatusCompleted)
	s.seedSession("idle", time.Hour, 0)

	snap := s.agg.Collect(s.ctx)

	s.InDelta((3.0+1.0)/2.0, snap.AvgAgentsPerSession, 0.001)
}

func (s *AggregatorSuite) TestDurationSampleCap() {
	s.agg.cfg.DurationCap = 1

	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", time.Hour, 30, models.InvocationStatusCompleted)
	s.seedInv("s1", "architect", 30*time.Minute, 10, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)

	st := snap.Agents["architect"]
	s.Require().NotNil(st)
	// Both rows count toward totals, but only the oldest row within the
	// cap contributes a duration sample.
	s.Equal(int64(2), st.Invocations)
	s.InDelta(30.0, st.AvgDuration, 0.001)
	s.InDelta(30.0, st.MaxDuration, 0.001)
}

func (s *AggregatorSuite) TestCompletionClassification() {
	// Completed session status wins regardless of success rate.
	s.seedSession("done", time.Hour, 30*time.Minute)
	s.seedInv("done", "architect", time.Hour, 1, models.InvocationStatusError)

	// Active session classified purely by success rate.
	s.seedSession("good", time.Hour, 0)
	for i := 0; i < 10; i++ {
		s.seedInv("good", "backend-developer", time.Hour, 1, models.InvocationStatusCompleted)
	}

	s.seedSession("mixed", time.Hour, 0)
	s.seedInv("mixed", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("mixed", "architect", time.Hour, 1, models.InvocationStatusCompleted)
	s.seedInv("mixed", "architect", time.Hour, 1, models.InvocationStatusError)

	s.seedSession("bad", time.Hour, 0)
	s.seedInv("bad", "architect", time.Hour, 1, models.InvocationStatusError)

	// Session with no agent activity at all.
	s.seedSession("idle", time.Hour, 0)

	snap := s.agg.Collect(s.ctx)

	s.Equal(CompletionComplete, snap.Sessions["done"].Completion)
	s.Equal(CompletionComplete, snap.Sessions["good"].Completion)
	s.Equal(CompletionPartial, snap.Sessions["mixed"].Completion)
	s.Equal(CompletionFailed, snap.Sessions["bad"].Completion)
	s.Equal(CompletionFailed, snap.Sessions["idle"].Completion)
}

func (s *AggregatorSuite) TestToolProfiles() {
	s.seedSession("s1", time.Hour, 0)
	start := time.Now().Add(-30 * time.Minute)

	seedTool := func(agent, tool string, invID int64, seq int64, status string) {
		s.T().Helper()
		_, err := s.toolUses.InsertBegin(s.ctx, &models.ToolUse{
			SessionID:      "s1",
			AgentName:      agent,
			InvocationID:   invID,
			ToolName:       tool,
			SequenceNumber: seq,
			StartedAt:      start.Format(time.RFC3339Nano),
			StartedAtEpoch: start.UnixMilli(),
		})
		s.Require().NoError(err)
		toolErr := ""
		if status == "error" {
			toolErr = "boom"
		}
		closed, err := s.toolUses.CloseMostRecent(s.ctx, "s1", agent, tool,
			start.Add(2*time.Second), status, toolErr, "")
		s.Require().NoError(err)
		s.Require().True(closed)
	}

	seedTool("backend-developer", "Bash", 1, 1, "completed")
	seedTool("backend-developer", "Bash", 1, 2, "completed")
	seedTool("backend-developer", "Read", 1, 3, "error")
	seedTool("backend-developer", "Bash", 2, 1, "completed")

	snap := s.agg.Collect(s.ctx)

	bash := snap.Tools["backend-developer/Bash"]
	s.Require().NotNil(bash)
	s.Equal(int64(3), bash.Uses)
	s.Equal(int64(0), bash.Errors)
	s.InDelta(100.0, bash.SuccessRate, 0.001)
	s.InDelta(2.0, bash.AvgDuration, 0.1)

	read := snap.Tools["backend-developer/Read"]
	s.Require().NotNil(read)
	s.Equal(int64(1), read.Errors)
	s.InDelta(0.0, read.SuccessRate, 0.001)

	profile := snap.AgentTools["backend-developer"]
	s.Require().NotNil(profile)
	s.InDelta(2.0, profile.ToolsPerInvocation, 0.001)
	s.InDelta(2.0/4.0, profile.ToolDiversity, 0.001)
	s.Equal("Bash", profile.PrimaryTool)
}

func (s *AggregatorSuite) TestCounters() {
	s.seedSession("open", time.Hour, 0)
	s.seedSession("closed", 2*time.Hour, time.Hour)
	s.seedInv("open", "architect", 30*time.Minute, -1, "")

	snap := s.agg.Collect(s.ctx)

	s.Equal(int64(1), snap.ActiveSessions)
	s.Equal(int64(2), snap.TotalSessions)
	s.Equal(int64(1), snap.ActiveInvocations)
}

func (s *AggregatorSuite) TestWindowExcludesOldRows() {
	s.seedSession("s1", time.Hour, 0)
	s.seedInv("s1", "architect", 10*24*time.Hour, 5, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", time.Hour, 5, models.InvocationStatusCompleted)

	snap := s.agg.Collect(s.ctx)

	s.NotContains(snap.Agents, "architect", "rows older than the window must not count")
	s.Contains(snap.Agents, "backend-developer")
}

func (s *AggregatorSuite) TestRecomputeIsIdempotent() {
	s.seedSession("s1", time.Hour, 30*time.Minute)
	s.seedInv("s1", "architect", time.Hour, 10, models.InvocationStatusCompleted)
	s.seedInv("s1", "backend-developer", 50*time.Minute, 20, models.InvocationStatusCompleted)

	first := s.agg.Collect(s.ctx)
	second := s.agg.Collect(s.ctx)

	s.NotEqual(first.CollectionID, second.CollectionID)
	s.Equal(first.Agents, second.Agents)
	s.Equal(first.Sessions, second.Sessions)
	s.Equal(first.Phases, second.Phases)
	s.Equal(first.TotalSessions, second.TotalSessions)
}

func (s *AggregatorSuite) TestSnapshotNeverNil() {
	s.NotNil(s.agg.Snapshot())
	s.agg.Collect(s.ctx)
	s.NotNil(s.agg.Snapshot())
}

func TestInvDuration(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		inv  models.Invocation
		want float64
		ok   bool
	}{
		{
			name: "recorded duration preferred",
			inv: models.Invocation{
				DurationSecs: sql.NullFloat64{Float64: 7, Valid: true},
				StartedAt:    now.Format(time.RFC3339Nano),
				EndedAt:      sql.NullString{String: now.Add(time.Minute).Format(time.RFC3339Nano), Valid: true},
			},
			want: 7,
			ok:   true,
		},
		{
			name: "timestamp fallback",
			inv: models.Invocation{
				StartedAt: now.Format(time.RFC3339Nano),
				EndedAt:   sql.NullString{String: now.Add(90 * time.Second).Format(time.RFC3339Nano), Valid: true},
			},
			want: 90,
			ok:   true,
		},
		{
			name: "open invocation skipped",
			inv:  models.Invocation{StartedAt: now.Format(time.RFC3339Nano)},
		},
		{
			name: "unparsable timestamps skipped",
			inv: models.Invocation{
				StartedAt: "not a time",
				EndedAt:   sql.NullString{String: "also not", Valid: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := invDuration(&tt.inv)
			if ok != tt.ok {
				t.Fatalf("invDuration ok = %v, want %v", ok, tt.ok)
			}
			if tt.ok && (got < tt.want-0.01 || got > tt.want+0.01) {
				t.Fatalf("invDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxParallelFactor(t *testing.T) {
	tests := []struct {
		name string
		ivs  []interval
		want int64
	}{
		{"no intervals", nil, 0},
		{
			"disjoint",
			[]interval{{"a", 0, 10}, {"b", 20, 30}},
			0,
		},
		{
			"two concurrent",
			[]interval{{"a", 0, 100}, {"b", 50, 150}},
			1,
		},
		{
			"same agent does not count",
			[]interval{{"a", 0, 100}, {"a", 50, 150}},
			0,
		},
		{
			"three way",
			[]interval{{"a", 0, 100}, {"b", 10, 100}, {"c", 20, 100}},
			2,
		},
		{
			"endpoint touch counts",
			[]interval{{"a", 0, 50}, {"b", 50, 100}},
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maxParallelFactor(tt.ivs); got != tt.want {
				t.Fatalf("maxParallelFactor = %d, want %d", got, tt.want)
			}
		})
	}
}
