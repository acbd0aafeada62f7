package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/agentwatch/agentwatch/pkg/models"
)

type InvocationStoreSuite struct {
	suite.Suite
	ctx         context.Context
	store       *Store
	sessions    *SessionStore
	invocations *InvocationStore
}

func (s *InvocationStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.invocations = NewInvocationStore(s.store)
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "sess-1", "", "", time.Now().Add(-time.Hour)))
}

func TestInvocationStoreSuite(t *testing.T) {
	suite.Run(t, new(InvocationStoreSuite))
}

func (s *InvocationStoreSuite) insert(sessionID, agent string, startedAt time.Time) int64 {
	s.T().Helper()
	id, err := s.invocations.Insert(s.ctx, &models.Invocation{
		SessionID:      sessionID,
		AgentName:      agent,
		Phase:          models.PhaseDevelopment,
		Prompt:         "implement the widget",
		StartedAt:      startedAt.Format(time.RFC3339Nano),
		StartedAtEpoch: startedAt.UnixMilli(),
	})
	s.Require().NoError(err)
	return id
}

func (s *InvocationStoreSuite) TestInsertAndGet() {
	id := s.insert("sess-1", "backend-developer", time.Now())

	inv, err := s.invocations.GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(inv)
	s.Equal("backend-developer", inv.AgentName)
	s.Equal(models.InvocationStatusStarted, inv.Status)
	s.True(inv.Open())
}

func (s *InvocationStoreSuite) TestFindOpenResolvesLIFO() {
	// Two begins for the same agent without an intervening end: the
	// end event must resolve to the most recent one.
	older := s.insert("sess-1", "architect", time.Now().Add(-10*time.Minute))
	newer := s.insert("sess-1", "architect", time.Now().Add(-time.Minute))

	open, err := s.invocations.FindOpen(s.ctx, "sess-1", "architect")
	s.Require().NoError(err)
	s.Require().NotNil(open)
	s.Equal(newer, open.ID)
	s.NotEqual(older, open.ID)
}

func (s *InvocationStoreSuite) TestFindOpenIgnoresClosed() {
	id := s.insert("sess-1", "architect", time.Now().Add(-time.Minute))
	s.Require().NoError(s.invocations.Complete(s.ctx, id, time.Now(),
		sql.NullFloat64{Float64: 60, Valid: true}, models.InvocationStatusCompleted, "", sql.NullInt64{}, "", ""))

	open, err := s.invocations.FindOpen(s.ctx, "sess-1", "architect")
	s.NoError(err)
	s.Nil(open)
}

func (s *InvocationStoreSuite) TestCompleteRecordsFields() {
	start := time.Now().Add(-5 * time.Second)
	id := s.insert("sess-1", "test-developer", start)
	end := time.Now()

	s.Require().NoError(s.invocations.Complete(s.ctx, id, end,
		sql.NullFloat64{Float64: 5, Valid: true}, models.InvocationStatusCompleted,
		"standard", sql.NullInt64{Int64: 1234, Valid: true}, "", `{"ok":true}`))

	inv, err := s.invocations.GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(inv)
	s.Equal(models.InvocationStatusCompleted, inv.Status)
	s.False(inv.Open())
	s.InDelta(5.0, inv.DurationSecs.Float64, 0.001)
	s.Equal("standard", inv.Model.String)
	s.Equal(int64(1234), inv.TotalTokens.Int64)
}

func (s *InvocationStoreSuite) TestCompleteAlreadyClosedIsNoop() {
	id := s.insert("sess-1", "architect", time.Now().Add(-time.Minute))
	firstEnd := time.Now().Add(-30 * time.Second)
	s.Require().NoError(s.invocations.Complete(s.ctx, id, firstEnd,
		sql.NullFloat64{Float64: 30, Valid: true}, models.InvocationStatusCompleted, "", sql.NullInt64{}, "", ""))

	// A concurrent duplicate close must not overwrite the first.
	s.Require().NoError(s.invocations.Complete(s.ctx, id, time.Now(),
		sql.NullFloat64{Float64: 99, Valid: true}, models.InvocationStatusError, "", sql.NullInt64{}, "boom", ""))

	inv, err := s.invocations.GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.InvocationStatusCompleted, inv.Status)
	s.InDelta(30.0, inv.DurationSecs.Float64, 0.001)
}

func (s *InvocationStoreSuite) TestInWindowExcludesOld() {
	s.insert("sess-1", "old-agent", time.Now().Add(-8*24*time.Hour))
	s.insert("sess-1", "recent-agent", time.Now().Add(-time.Hour))

	inWindow, err := s.invocations.InWindow(s.ctx, 7*24*time.Hour, 10000)
	s.Require().NoError(err)
	s.Require().Len(inWindow, 1)
	s.Equal("recent-agent", inWindow[0].AgentName)
}

func (s *InvocationStoreSuite) TestInWindowHonorsCap() {
	for i := 0; i < 5; i++ {
		s.insert("sess-1", "architect", time.Now().Add(-time.Duration(i)*time.Minute))
	}

	inWindow, err := s.invocations.InWindow(s.ctx, 7*24*time.Hour, 3)
	s.Require().NoError(err)
	s.Len(inWindow, 3, "truncated at the cap, not failed")
}

func (s *InvocationStoreSuite) TestBySessionOrdered() {
	s.insert("sess-1", "second", time.Now().Add(-time.Minute))
	s.insert("sess-1", "first", time.Now().Add(-2*time.Minute))

	invs, err := s.invocations.BySession(s.ctx, "sess-1", 0)
	s.Require().NoError(err)
	s.Require().Len(invs, 2)
	s.Equal("first", invs[0].AgentName)
	s.Equal("second", invs[1].AgentName)
}

func (s *InvocationStoreSuite) TestSearchFieldAllowList() {
	s.insert("sess-1", "backend-developer", time.Now())

	tests := []struct {
		name    string
		field   string
		term    string
		wantErr bool
		wantHit bool
	}{
		{
			name:    "prompt match",
			field:   "prompt",
			term:    "widget",
			wantHit: true,
		},
		{
			name:    "agent name match",
			field:   "agent_name",
			term:    "backend",
			wantHit: true,
		},
		{
			name:  "no match",
			field: "prompt",
			term:  "nonexistent",
		},
		{
			name:    "disallowed field rejected",
			field:   "status; DROP TABLE agent_invocations",
			term:    "x",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			matches, err := s.invocations.Search(s.ctx, tt.field, tt.term, 10)
			if tt.wantErr {
				s.Error(err)
				return
			}
			s.Require().NoError(err)
			if tt.wantHit {
				s.NotEmpty(matches)
			} else {
				s.Empty(matches)
			}
		})
	}
}

func (s *InvocationStoreSuite) TestAfterCursor() {
	first := s.insert("sess-1", "a", time.Now().Add(-2*time.Minute))
	second := s.insert("sess-1", "b", time.Now().Add(-time.Minute))

	tail, err := s.invocations.After(s.ctx, first, 100)
	s.Require().NoError(err)
	s.Require().Len(tail, 1)
	s.Equal(second, tail[0].ID)

	// Re-readable: the same cursor yields the same rows.
	again, err := s.invocations.After(s.ctx, first, 100)
	s.Require().NoError(err)
	s.Len(again, 1)

	maxID, err := s.invocations.MaxID(s.ctx)
	s.Require().NoError(err)
	s.Equal(second, maxID)
}

func (s *InvocationStoreSuite) TestCountOpen() {
	s.insert("sess-1", "a", time.Now())
	id := s.insert("sess-1", "b", time.Now())
	s.Require().NoError(s.invocations.Complete(s.ctx, id, time.Now(),
		sql.NullFloat64{}, models.InvocationStatusCompleted, "", sql.NullInt64{}, "", ""))

	open, err := s.invocations.CountOpen(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), open)
}
