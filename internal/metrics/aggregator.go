package metrics

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// Aggregator recomputes the snapshot from the store. Collect is called
// by the serving loop; ticks are already serialized there, so the
// aggregator itself holds no locks beyond the atomic publish pointer.
type Aggregator struct {
	cfg         *config.Config
	sessions    *sqlite.SessionStore
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore

	snap atomic.Pointer[Snapshot]
	now  func() time.Time
}

// NewAggregator wires an aggregator over the store. The initial
// snapshot is empty, never nil.
func NewAggregator(store *sqlite.Store, cfg *config.Config) *Aggregator {
	a := &Aggregator{
		cfg:         cfg,
		sessions:    sqlite.NewSessionStore(store),
		invocations: sqlite.NewInvocationStore(store),
		toolUses:    sqlite.NewToolUseStore(store),
		now:         time.Now,
	}
	a.snap.Store(emptySnapshot())
	return a
}

// Snapshot returns the most recently published snapshot.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snap.Load()
}

// Collect runs one full recomputation and publishes the result. Each
// sub-collector is independently best-effort: a failing one logs and
// carries its section forward from the previous snapshot instead of
// aborting the pass.
func (a *Aggregator) Collect(ctx context.Context) *Snapshot {
	started := a.now()
	prev := a.snap.Load()
	next := emptySnapshot()
	next.CollectionID = uuid.NewString()
	next.CollectedAt = started

	invs, err := a.invocations.InWindow(ctx, a.cfg.InvocationWindow, a.cfg.InvocationCap)
	if err != nil {
		log.Error().Err(err).Msg("invocation window query failed, carrying previous agent metrics")
		next.Agents = prev.Agents
		next.Phases = prev.Phases
		next.Sequences = prev.Sequences
		next.Overlaps = prev.Overlaps
		next.Bottlenecks = prev.Bottlenecks
		invs = nil
	} else {
		a.collectAgents(next, invs)
		a.collectSequences(next, invs)
		a.collectOverlaps(next, invs)
		a.collectBottlenecks(next)
	}

	sessions, err := a.sessions.InWindow(ctx, a.cfg.SessionWindow, a.cfg.SessionCap)
	if err != nil {
		log.Error().Err(err).Msg("session window query failed, carrying previous session metrics")
		next.Sessions = prev.Sessions
	} else {
		a.collectSessionDetail(next, sessions, invs)
	}

	tools, err := a.toolUses.InWindow(ctx, a.cfg.InvocationWindow, a.cfg.InvocationCap)
	if err != nil {
		log.Error().Err(err).Msg("tool use window query failed, carrying previous tool metrics")
		next.Tools = prev.Tools
		next.AgentTools = prev.AgentTools
	} else {
		a.collectTools(next, tools)
	}

	a.collectCounters(ctx, next, prev)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	next.HeapAllocBytes = ms.HeapAlloc
	switch {
	case ms.HeapAlloc >= a.cfg.MemCriticalBytes:
		log.Error().Uint64("heap_alloc", ms.HeapAlloc).Uint64("threshold", a.cfg.MemCriticalBytes).
			Msg("memory high-water critical")
	case ms.HeapAlloc >= a.cfg.MemWarnBytes:
		log.Warn().Uint64("heap_alloc", ms.HeapAlloc).Uint64("threshold", a.cfg.MemWarnBytes).
			Msg("memory high-water warning")
	}

	next.Elapsed = a.now().Sub(started)
	a.snap.Store(next)
	log.Debug().Str("collection", next.CollectionID).Dur("elapsed", next.Elapsed).
		Int("invocations", len(invs)).Int("sessions", len(sessions)).Msg("snapshot published")
	return next
}

// invDuration returns an invocation's duration in seconds, preferring
// the recorded value and falling back to timestamp subtraction. A pair
// that does not parse is skipped, never treated as zero.
func invDuration(inv *models.Invocation) (float64, bool) {
	if inv.DurationSecs.Valid {
		return inv.DurationSecs.Float64, true
	}
	if !inv.EndedAt.Valid {
		return 0, false
	}
	start, err1 := time.Parse(time.RFC3339Nano, inv.StartedAt)
	end, err2 := time.Parse(time.RFC3339Nano, inv.EndedAt.String)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return end.Sub(start).Seconds(), true
}

func (a *Aggregator) collectAgents(snap *Snapshot, invs []*models.Invocation) {
	type acc struct {
		stats    *AgentStats
		durSum   float64
		durCount int64
	}
	agents := make(map[string]*acc)
	samples := 0

	for _, inv := range invs {
		ag := agents[inv.AgentName]
		if ag == nil {
			ag = &acc{stats: &AgentStats{AgentName: inv.AgentName, Phase: inv.Phase}}
			agents[inv.AgentName] = ag
		}
		st := ag.stats
		st.Invocations++
		switch inv.Status {
		case models.InvocationStatusCompleted:
			st.Completed++
		case models.InvocationStatusError:
			st.Errors++
		}
		if inv.TotalTokens.Valid {
			st.TotalTokens += inv.TotalTokens.Int64
		}
		if ts := inv.StartedAtEpoch / 1000; ts > st.LastExecutedAt {
			st.LastExecutedAt = ts
		}
		// Duration samples are capped separately from the row window so
		// averaging cost stays bounded even at the invocation cap.
		if d, ok := invDuration(inv); ok && samples < a.cfg.DurationCap {
			samples++
			ag.durSum += d
			ag.durCount++
			if d > st.MaxDuration {
				st.MaxDuration = d
			}
		}
		if inv.Phase != models.PhaseUnknown {
			snap.Phases[inv.Phase]++
		}
	}

	for name, ag := range agents {
		st := ag.stats
		if st.Invocations > 0 {
			st.SuccessRate = float64(st.Completed) / float64(st.Invocations) * 100
		}
		if ag.durCount > 0 {
			st.AvgDuration = ag.durSum / float64(ag.durCount)
		}
		snap.Agents[name] = st
	}
	snap.UniqueAgents = int64(len(agents))
}

// collectSequences mines contiguous agent n-grams per session across
// the window. Ties in the top-N rank break by first-seen order.
func (a *Aggregator) collectSequences(snap *Snapshot, invs []*models.Invocation) {
	n := a.cfg.SequenceLength
	if n < 2 || len(invs) < n {
		return
	}

	bySession := make(map[string][]*models.Invocation)
	order := make([]string, 0)
	for _, inv := range invs {
		if _, seen := bySession[inv.SessionID]; !seen {
			order = append(order, inv.SessionID)
		}
		bySession[inv.SessionID] = append(bySession[inv.SessionID], inv)
	}

	counts := make(map[string]int64)
	firstSeen := make(map[string]int)
	keys := make(map[string][]string)
	rank := 0

	for _, sid := range order {
		seq := bySession[sid]
		sort.SliceStable(seq, func(i, j int) bool {
			return seq[i].StartedAtEpoch < seq[j].StartedAtEpoch
		})
		for i := 0; i+n <= len(seq); i++ {
			gram := make([]string, n)
			for j := 0; j < n; j++ {
				gram[j] = seq[i+j].AgentName
			}
			key := strings.Join(gram, "\x00")
			if _, seen := counts[key]; !seen {
				firstSeen[key] = rank
				keys[key] = gram
				rank++
			}
			counts[key]++
		}
	}

	ordered := make([]string, 0, len(counts))
	for key := range counts {
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if counts[ordered[i]] != counts[ordered[j]] {
			return counts[ordered[i]] > counts[ordered[j]]
		}
		return firstSeen[ordered[i]] < firstSeen[ordered[j]]
	})

	topN := a.cfg.SequenceTopN
	if topN > len(ordered) {
		topN = len(ordered)
	}
	for _, key := range ordered[:topN] {
		snap.Sequences = append(snap.Sequences, SequenceCount{Agents: keys[key], Count: counts[key]})
	}
}

// interval is a closed invocation interval in epoch milliseconds.
type interval struct {
	agent      string
	start, end int64
}

func closedIntervals(invs []*models.Invocation) map[string][]interval {
	out := make(map[string][]interval)
	for _, inv := range invs {
		if !inv.EndedAtEpoch.Valid {
			continue
		}
		out[inv.SessionID] = append(out[inv.SessionID], interval{
			agent: inv.AgentName,
			start: inv.StartedAtEpoch,
			end:   inv.EndedAtEpoch.Int64,
		})
	}
	return out
}

// collectOverlaps counts overlapping completed runs per unordered
// agent pair within each session. Intervals intersect when
// A.start <= B.end and A.end >= B.start (closed-interval test).
func (a *Aggregator) collectOverlaps(snap *Snapshot, invs []*models.Invocation) {
	type pair struct{ a, b string }
	counts := make(map[pair]int64)
	order := make([]pair, 0)

	for _, ivs := range closedIntervals(invs) {
		for i := 0; i < len(ivs); i++ {
			for j := i + 1; j < len(ivs); j++ {
				x, y := ivs[i], ivs[j]
				if x.agent == y.agent {
					continue
				}
				if x.start <= y.end && x.end >= y.start {
					p := pair{x.agent, y.agent}
					if p.a > p.b {
						p.a, p.b = p.b, p.a
					}
					if _, seen := counts[p]; !seen {
						order = append(order, p)
					}
					counts[p]++
				}
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		if order[i].a != order[j].a {
			return order[i].a < order[j].a
		}
		return order[i].b < order[j].b
	})
	for _, p := range order {
		snap.Overlaps = append(snap.Overlaps, OverlapCount{AgentA: p.a, AgentB: p.b, Count: counts[p]})
	}
}

// collectBottlenecks flags agents averaging above the threshold with
// at least one completed run, ranked by average duration descending.
func (a *Aggregator) collectBottlenecks(snap *Snapshot) {
	for _, st := range snap.Agents {
		if st.Completed > 0 && st.AvgDuration > a.cfg.BottleneckSecs {
			snap.Bottlenecks = append(snap.Bottlenecks, Bottleneck{
				AgentName:   st.AgentName,
				AvgDuration: st.AvgDuration,
				Completed:   st.Completed,
			})
		}
	}
	sort.Slice(snap.Bottlenecks, func(i, j int) bool {
		if snap.Bottlenecks[i].AvgDuration != snap.Bottlenecks[j].AvgDuration {
			return snap.Bottlenecks[i].AvgDuration > snap.Bottlenecks[j].AvgDuration
		}
		return snap.Bottlenecks[i].AgentName < snap.Bottlenecks[j].AgentName
	})
}

func (a *Aggregator) collectSessionDetail(snap *Snapshot, sessions []*models.Session, invs []*models.Invocation) {
	bySession := make(map[string][]*models.Invocation)
	for _, inv := range invs {
		bySession[inv.SessionID] = append(bySession[inv.SessionID], inv)
	}
	intervals := closedIntervals(invs)

	sessionsWithKnownAgents := 0
	totalUniqueAgents := 0

	for _, sess := range sessions {
		st := &SessionStats{
			SessionID:      sess.SessionID,
			StartedAtEpoch: sess.StartedAtEpoch,
		}
		if wall, ok := sess.Duration(); ok {
			st.DurationSecs = wall.Seconds()
		}

		seq := bySession[sess.SessionID]
		if len(seq) > 0 {
			uniq := make(map[string]struct{})
			phases := make(map[models.Phase]struct{})
			var completed int64
			first := seq[0]
			for _, inv := range seq {
				st.AgentsTotal++
				uniq[inv.AgentName] = struct{}{}
				if inv.Phase != models.PhaseUnknown {
					phases[inv.Phase] = struct{}{}
				}
				switch inv.Status {
				case models.InvocationStatusCompleted:
					completed++
				case models.InvocationStatusError:
					st.ErrorCount++
				}
				if d, ok := invDuration(inv); ok {
					st.TotalAgentTime += d
				}
				if inv.StartedAtEpoch < first.StartedAtEpoch {
					first = inv
				}
			}
			known := 0
			for name := range uniq {
				if name != models.UnknownAgentName {
					known++
				}
			}
			if known > 0 {
				sessionsWithKnownAgents++
				totalUniqueAgents += known
			}

			st.UniqueAgents = int64(len(uniq))
			st.PhasesCompleted = int64(len(phases))
			st.SuccessRate = float64(completed) / float64(st.AgentsTotal) * 100
			st.Diversity = float64(st.UniqueAgents) / float64(st.AgentsTotal)
			st.FirstAgent = first.AgentName
			st.ParallelFactor = maxParallelFactor(intervals[sess.SessionID])

			if st.DurationSecs > 0 {
				st.Efficiency = st.TotalAgentTime / st.DurationSecs
				if idle := st.DurationSecs - st.TotalAgentTime; idle > 0 {
					st.IdleTime = idle
				}
			}

			switch {
			case sess.Status == models.SessionStatusCompleted || st.SuccessRate > 90:
				st.Completion = CompletionComplete
			case st.SuccessRate > 50:
				st.Completion = CompletionPartial
			default:
				st.Completion = CompletionFailed
			}
		} else {
			st.Completion = CompletionFailed
		}

		snap.Sessions[sess.SessionID] = st
	}

	// Average of per-session distinct agent counts, not of invocation
	// counts: repeat runs of the same agent do not raise it.
	if sessionsWithKnownAgents > 0 {
		snap.AvgAgentsPerSession = float64(totalUniqueAgents) / float64(sessionsWithKnownAgents)
	}
}

// maxParallelFactor returns the maximum, over every interval start
// instant, of the number of other-agent intervals overlapping it.
func maxParallelFactor(ivs []interval) int64 {
	var max int64
	for i := range ivs {
		var n int64
		for j := range ivs {
			if i == j || ivs[i].agent == ivs[j].agent {
				continue
			}
			if ivs[j].start <= ivs[i].start && ivs[j].end >= ivs[i].start {
				n++
			}
		}
		if n > max {
			max = n
		}
	}
	return max
}

func (a *Aggregator) collectTools(snap *Snapshot, tools []*models.ToolUse) {
	type acc struct {
		stats    *ToolStats
		durSum   float64
		durCount int64
	}
	byPair := make(map[string]*acc)

	type agentAcc struct {
		uses        int64
		invocations map[int64]struct{}
		toolCounts  map[string]int64
	}
	byAgent := make(map[string]*agentAcc)
	samples := 0

	for _, tu := range tools {
		key := tu.AgentName + "/" + tu.ToolName
		pa := byPair[key]
		if pa == nil {
			pa = &acc{stats: &ToolStats{AgentName: tu.AgentName, ToolName: tu.ToolName}}
			byPair[key] = pa
		}
		pa.stats.Uses++
		if tu.Status == "error" {
			pa.stats.Errors++
		}
		if tu.DurationSecs.Valid && samples < a.cfg.DurationCap {
			samples++
			pa.durSum += tu.DurationSecs.Float64
			pa.durCount++
		}

		aa := byAgent[tu.AgentName]
		if aa == nil {
			aa = &agentAcc{invocations: make(map[int64]struct{}), toolCounts: make(map[string]int64)}
			byAgent[tu.AgentName] = aa
		}
		aa.uses++
		aa.invocations[tu.InvocationID] = struct{}{}
		aa.toolCounts[tu.ToolName]++
	}

	for key, pa := range byPair {
		st := pa.stats
		st.SuccessRate = float64(st.Uses-st.Errors) / float64(st.Uses) * 100
		if pa.durCount > 0 {
			st.AvgDuration = pa.durSum / float64(pa.durCount)
		}
		snap.Tools[key] = st
	}

	for name, aa := range byAgent {
		profile := &AgentToolProfile{AgentName: name}
		if n := len(aa.invocations); n > 0 {
			profile.ToolsPerInvocation = float64(aa.uses) / float64(n)
		}
		if aa.uses > 0 {
			profile.ToolDiversity = float64(len(aa.toolCounts)) / float64(aa.uses)
		}
		var best int64
		for tool, c := range aa.toolCounts {
			if c > best || (c == best && tool < profile.PrimaryTool) {
				best = c
				profile.PrimaryTool = tool
			}
		}
		snap.AgentTools[name] = profile
	}
}

// collectCounters fills the unwindowed store-level gauges.
func (a *Aggregator) collectCounters(ctx context.Context, snap, prev *Snapshot) {
	var err error
	if snap.ActiveSessions, err = a.sessions.CountActive(ctx); err != nil {
		log.Error().Err(err).Msg("active session count failed")
		snap.ActiveSessions = prev.ActiveSessions
	}
	if snap.TotalSessions, err = a.sessions.CountTotal(ctx); err != nil {
		log.Error().Err(err).Msg("total session count failed")
		snap.TotalSessions = prev.TotalSessions
	}
	if snap.ActiveInvocations, err = a.invocations.CountOpen(ctx); err != nil {
		log.Error().Err(err).Msg("open invocation count failed")
		snap.ActiveInvocations = prev.ActiveInvocations
	}
}
