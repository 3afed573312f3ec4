package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/queue"
)

// fakeAgent records run invocations and returns a canned result or error.
type fakeAgent struct {
	result   json.RawMessage
	err      error
	runs     int
	statuses []models.ClaudeStatus
	sessions *repos.SessionRepository
}

func (a *fakeAgent) Run(ctx context.Context, session *models.Session, prompt string) (json.RawMessage, error) {
	a.runs++
	// Capture the status the session holds while the agent runs.
	if a.sessions != nil {
		if current, err := a.sessions.GetByID(ctx, session.ID); err == nil {
			a.statuses = append(a.statuses, current.ClaudeStatus)
		}
	}
	return a.result, a.err
}

type SessionRunnerTestSuite struct {
	suite.Suite
	ctx         context.Context
	sessions    *repos.SessionRepository
	permissions *repos.PermissionRepository
}

func (s *SessionRunnerTestSuite) SetupTest() {
	s.ctx = context.Background()
	db := newTestDB(s.T())
	s.sessions = repos.NewSessionRepository(db)
	s.permissions = repos.NewPermissionRepository(db)
}

func (s *SessionRunnerTestSuite) createSession() *models.Session {
	session := &models.Session{Title: "test session", ProjectPath: "/tmp/project"}
	s.Require().NoError(s.sessions.Create(s.ctx, session))
	return session
}

func (s *SessionRunnerTestSuite) runJob(runner *SessionRunner, payload SessionRunPayload) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	s.Require().NoError(err)
	return runner.HandleJob(s.ctx, &models.Job{Type: JobTypeSessionRunner, Payload: raw})
}

func (s *SessionRunnerTestSuite) TestSuccessfulRun() {
	session := s.createSession()
	agent := &fakeAgent{result: json.RawMessage(`{"answer":42}`), sessions: s.sessions}
	runner := NewSessionRunner(s.sessions, s.permissions, agent)

	result, err := s.runJob(runner, SessionRunPayload{SessionID: session.ID, Prompt: "do the thing"})
	s.Require().NoError(err)
	s.JSONEq(`{"answer":42}`, string(result))
	s.Equal(1, agent.runs)

	// Processing while the agent runs, completed after.
	s.Equal([]models.ClaudeStatus{models.ClaudeStatusProcessing}, agent.statuses)
	got, err := s.sessions.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaudeStatusCompleted, got.ClaudeStatus)
}

func (s *SessionRunnerTestSuite) TestFailedRunRecordsErrorAndCancelsPermissions() {
	session := s.createSession()
	req := &models.PermissionRequest{SessionID: session.ID, ToolName: "Bash", ToolUseID: "tu-1"}
	s.Require().NoError(s.permissions.CreateRequest(s.ctx, req))

	agent := &fakeAgent{err: errors.New("agent crashed")}
	runner := NewSessionRunner(s.sessions, s.permissions, agent)

	_, err := s.runJob(runner, SessionRunPayload{SessionID: session.ID, Prompt: "do the thing"})
	s.Require().Error(err)
	s.NotErrorIs(err, queue.ErrNonRetryable, "agent failures should be retryable")

	got, err := s.sessions.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaudeStatusError, got.ClaudeStatus)

	// The blocked approval call must see a terminal status, not wait out
	// its full timeout.
	updated, err := s.permissions.GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.PermissionStatusCancelled, updated.Status)
}

func (s *SessionRunnerTestSuite) TestInvalidPayloadFailsTerminally() {
	runner := NewSessionRunner(s.sessions, s.permissions, &fakeAgent{})

	_, err := runner.HandleJob(s.ctx, &models.Job{Payload: json.RawMessage(`not json`)})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)

	_, err = s.runJob(runner, SessionRunPayload{Prompt: "no session"})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)

	_, err = s.runJob(runner, SessionRunPayload{SessionID: "sess-1"})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
}

func (s *SessionRunnerTestSuite) TestUnknownSessionFailsTerminally() {
	runner := NewSessionRunner(s.sessions, s.permissions, &fakeAgent{})

	_, err := s.runJob(runner, SessionRunPayload{SessionID: "no-such-session", Prompt: "hello"})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
}

func TestSessionRunnerSuite(t *testing.T) {
	suite.Run(t, new(SessionRunnerTestSuite))
}
