package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/agentwatch/agentwatch/pkg/models"
)

type SessionStoreSuite struct {
	suite.Suite
	ctx      context.Context
	store    *Store
	sessions *SessionStore
}

func (s *SessionStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testStore(s.T())
	s.sessions = NewSessionStore(s.store)
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) TestRecordStartAndGet() {
	now := time.Now()
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "sess-1", "/work/project", `{"source":"startup"}`, now))

	sess, err := s.sessions.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Require().NotNil(sess)
	s.Equal("sess-1", sess.SessionID)
	s.Equal(models.SessionStatusActive, sess.Status)
	s.Require().True(sess.CWD.Valid)
	s.Equal("/work/project", sess.CWD.String)
	s.Equal(now.UnixMilli(), sess.StartedAtEpoch)
	s.False(sess.EndedAt.Valid)
}

func (s *SessionStoreSuite) TestRecordStartIdempotent() {
	first := time.Now().Add(-time.Hour)
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "sess-1", "/a", "", first))

	// A second start for the same id must not create a second row.
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "sess-1", "/b", "", time.Now()))

	total, err := s.sessions.CountTotal(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

func (s *SessionStoreSuite) TestRecordEnd() {
	start := time.Now().Add(-5 * time.Minute)
	end := time.Now()
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "sess-1", "", "", start))
	s.Require().NoError(s.sessions.RecordEnd(s.ctx, "sess-1", end))

	sess, err := s.sessions.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Require().NotNil(sess)
	s.Equal(models.SessionStatusCompleted, sess.Status)
	s.True(sess.EndedAt.Valid)

	d, ok := sess.Duration()
	s.True(ok)
	s.InDelta((5 * time.Minute).Seconds(), d.Seconds(), 1)
}

func (s *SessionStoreSuite) TestEnsureCreatesMissing() {
	// An event can arrive for a session whose start notification was
	// never delivered.
	s.Require().NoError(s.sessions.Ensure(s.ctx, "orphan", time.Now()))
	s.Require().NoError(s.sessions.Ensure(s.ctx, "orphan", time.Now()))

	sess, err := s.sessions.Get(s.ctx, "orphan")
	s.Require().NoError(err)
	s.Require().NotNil(sess)
	s.Equal(models.SessionStatusActive, sess.Status)
}

func (s *SessionStoreSuite) TestGetMissingReturnsNil() {
	sess, err := s.sessions.Get(s.ctx, "nope")
	s.NoError(err)
	s.Nil(sess)
}

func (s *SessionStoreSuite) TestInWindowExcludesOld() {
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "old", "", "", time.Now().Add(-40*24*time.Hour)))
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "recent", "", "", time.Now().Add(-time.Hour)))

	inWindow, err := s.sessions.InWindow(s.ctx, 30*24*time.Hour, 1000)
	s.Require().NoError(err)
	s.Require().Len(inWindow, 1)
	s.Equal("recent", inWindow[0].SessionID)
}

func (s *SessionStoreSuite) TestCountActive() {
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "a", "", "", time.Now()))
	s.Require().NoError(s.sessions.RecordStart(s.ctx, "b", "", "", time.Now()))
	s.Require().NoError(s.sessions.RecordEnd(s.ctx, "b", time.Now()))

	active, err := s.sessions.CountActive(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), active)
}

func (s *SessionStoreSuite) TestRecent() {
	for _, tc := range []struct {
		id  string
		ago time.Duration
	}{
		{"oldest", 3 * time.Hour},
		{"middle", 2 * time.Hour},
		{"newest", time.Hour},
	} {
		s.Require().NoError(s.sessions.RecordStart(s.ctx, tc.id, "", "", time.Now().Add(-tc.ago)))
	}

	recent, err := s.sessions.Recent(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("newest", recent[0].SessionID)
	s.Equal("middle", recent[1].SessionID)
}
