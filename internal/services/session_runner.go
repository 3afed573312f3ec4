package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
	"github.com/mzxrai/memva-sub002/internal/queue"
)

// SessionRunPayload is the typed payload consumed by the session-runner
// handler.
type SessionRunPayload struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// AgentRunner drives an agent conversation for a session. The agent's task
// execution is an opaque external collaborator; the core only owns this
// contract. Run blocks for the whole conversation, which can be unbounded
// while the agent waits on permission decisions, and must honor ctx
// cancellation.
type AgentRunner interface {
	Run(ctx context.Context, session *models.Session, prompt string) (json.RawMessage, error)
}

// SessionRunner is the job handler for JobTypeSessionRunner. It resolves
// the session, tracks its agent status around the run, and cancels the
// session's pending permission requests when the run ends without a clean
// completion so no approval call stays blocked.
type SessionRunner struct {
	sessions    *repos.SessionRepository
	permissions *repos.PermissionRepository
	agent       AgentRunner
}

// NewSessionRunner creates a new session runner instance
func NewSessionRunner(sessions *repos.SessionRepository, permissions *repos.PermissionRepository, agent AgentRunner) *SessionRunner {
	return &SessionRunner{sessions: sessions, permissions: permissions, agent: agent}
}

// HandleJob runs an agent conversation for the session named in the job
// payload. Unknown sessions and empty prompts fail terminally; agent errors
// are retryable.
func (r *SessionRunner) HandleJob(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload SessionRunPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, queue.NonRetryable(fmt.Errorf("invalid session-run payload: %w", err))
	}
	if payload.SessionID == "" {
		return nil, queue.NonRetryable(fmt.Errorf("session_id is required"))
	}
	if payload.Prompt == "" {
		return nil, queue.NonRetryable(fmt.Errorf("prompt is required"))
	}

	session, err := r.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		return nil, queue.NonRetryable(err)
	}

	if err := r.sessions.UpdateClaudeStatus(ctx, session.ID, models.ClaudeStatusProcessing); err != nil {
		return nil, err
	}

	result, runErr := r.agent.Run(ctx, session, payload.Prompt)
	if runErr != nil {
		// Unblock any approval call still waiting on this session before
		// the failure is recorded.
		if n, err := r.permissions.CancelForSession(context.WithoutCancel(ctx), session.ID); err != nil {
			logger.Errorf("Session runner failed to cancel pending permissions for %s: %v", session.ID, err)
		} else if n > 0 {
			logger.Infof("Session runner cancelled %d pending permissions for %s", n, session.ID)
		}
		if err := r.sessions.UpdateClaudeStatus(context.WithoutCancel(ctx), session.ID, models.ClaudeStatusError); err != nil {
			logger.Errorf("Session runner failed to record error status for %s: %v", session.ID, err)
		}
		return nil, fmt.Errorf("agent run failed for session %s: %w", session.ID, runErr)
	}

	if err := r.sessions.UpdateClaudeStatus(ctx, session.ID, models.ClaudeStatusCompleted); err != nil {
		return nil, err
	}
	return result, nil
}

// AgentSessionEnv is the environment variable the agent process and its
// approval channel read to learn which session they belong to.
const AgentSessionEnv = "MEMVA_SESSION_ID"

// CommandAgentRunner runs the agent as an external command in the session's
// project directory. Stdout is the run result; the session ID is passed
// through the environment so the agent's approval channel can bind to it.
type CommandAgentRunner struct {
	Command string
}

var _ AgentRunner = (*CommandAgentRunner)(nil)

// Run executes the agent command with the prompt as its argument.
func (a *CommandAgentRunner) Run(ctx context.Context, session *models.Session, prompt string) (json.RawMessage, error) {
	if a.Command == "" {
		return nil, fmt.Errorf("no agent command configured")
	}

	cmd := exec.CommandContext(ctx, a.Command, prompt)
	cmd.Dir = session.ProjectPath
	cmd.Env = append(os.Environ(), AgentSessionEnv+"="+session.ID)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("agent command failed: %w", err)
	}
	if !json.Valid(out) {
		out, err = json.Marshal(map[string]string{"output": string(out)})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
