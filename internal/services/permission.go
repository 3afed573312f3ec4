package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
)

// Decision is the outcome of a permission request as seen by the agent.
// Behavior is always allow or deny; the protocol is fail-closed, so every
// error path maps onto a deny with a message.
type Decision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

func denyDecision(message string) Decision {
	return Decision{Behavior: models.DecisionDeny, Message: message}
}

// PermissionPoller creates permission requests and blocks until a human
// decision is recorded or the wait budget runs out. The main application
// and the approval channel never call each other; rows in the permission
// store are the only communication between them.
type PermissionPoller struct {
	permissions  *repos.PermissionRepository
	pollInterval time.Duration
}

// NewPermissionPoller creates a poller with the given store poll interval.
// A zero interval gets the 500ms default.
func NewPermissionPoller(permissions *repos.PermissionRepository, pollInterval time.Duration) *PermissionPoller {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &PermissionPoller{permissions: permissions, pollInterval: pollInterval}
}

// RequestAndAwait creates a pending permission request and polls the store
// until its status leaves pending or maxWait elapses. It may block the
// caller for up to maxWait (24 hours by default), so callers must treat it
// as a long-lived cancellable operation. It never returns an error: store
// failures, timeouts and context cancellation all become deny decisions.
func (p *PermissionPoller) RequestAndAwait(ctx context.Context, sessionID, toolName string, input json.RawMessage, toolUseID string, maxWait time.Duration) Decision {
	if maxWait <= 0 {
		maxWait = models.DefaultRequestTimeout
	}

	req := &models.PermissionRequest{
		SessionID: sessionID,
		ToolName:  toolName,
		ToolUseID: toolUseID,
		Input:     input,
		ExpiresAt: time.Now().Add(maxWait),
	}
	if err := p.permissions.CreateRequest(ctx, req); err != nil {
		logger.Errorf("Permission poller failed to create request: %v", err)
		return denyDecision("failed to create permission request: " + err.Error())
	}

	logger.InfoWithFields("Permission request created, awaiting decision", map[string]interface{}{
		"request_id": req.ID, "session_id": sessionID, "tool_name": toolName,
	})

	// The wait budget fires on its own timer so maxWait holds even when it
	// is shorter than the poll interval.
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.markCancelled(req.ID)
			return denyDecision("permission request cancelled: " + ctx.Err().Error())
		case <-timer.C:
			p.markTimedOut(req.ID)
			return denyDecision("permission request timed out")
		case <-ticker.C:
			current, err := p.permissions.GetByID(ctx, req.ID)
			if err != nil {
				// Fail closed rather than blocking on a broken store.
				logger.Errorf("Permission poller failed to read request %s: %v", req.ID, err)
				return denyDecision("permission store unavailable: " + err.Error())
			}
			if current.Status.IsTerminal() {
				return decisionFor(current)
			}
		}
	}
}

// markTimedOut closes the stored request so it no longer counts as awaiting
// approval. A concurrent human decision winning the race is fine.
func (p *PermissionPoller) markTimedOut(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.permissions.MarkTimeout(ctx, id); err != nil {
		logger.Errorf("Permission poller failed to mark request %s timed out: %v", id, err)
	}
}

// markCancelled closes the stored request when the awaiting caller goes away
// before a decision, keeping timeout reserved for an elapsed wait budget.
func (p *PermissionPoller) markCancelled(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.permissions.MarkCancelled(ctx, id); err != nil {
		logger.Errorf("Permission poller failed to mark request %s cancelled: %v", id, err)
	}
}

func decisionFor(req *models.PermissionRequest) Decision {
	switch req.Status {
	case models.PermissionStatusApproved:
		return Decision{Behavior: models.DecisionAllow}
	case models.PermissionStatusDenied:
		return denyDecision("denied by user")
	case models.PermissionStatusCancelled:
		return denyDecision("session was cancelled")
	case models.PermissionStatusSuperseded:
		return denyDecision("superseded by a newer request")
	case models.PermissionStatusExpired:
		return denyDecision("permission request expired")
	default:
		return denyDecision("permission request timed out")
	}
}

// Permission provides the UI-facing decision operations over the
// permission store.
type Permission struct {
	permissions *repos.PermissionRepository
}

// NewPermissionService creates a new permission service instance
func NewPermissionService(permissions *repos.PermissionRepository) *Permission {
	return &Permission{permissions: permissions}
}

// RecordDecision applies a human allow/deny decision to a pending request.
func (s *Permission) RecordDecision(ctx context.Context, id, decision string) error {
	return s.permissions.RecordDecision(ctx, id, decision)
}

// ListBySession returns a session's permission requests.
func (s *Permission) ListBySession(ctx context.Context, sessionID string, status models.PermissionStatus, opts *models.ListOptions) ([]models.PermissionRequest, error) {
	return s.permissions.ListBySession(ctx, sessionID, status, opts)
}

// CountPending returns how many of a session's requests await a decision.
func (s *Permission) CountPending(ctx context.Context, sessionID string) (int64, error) {
	return s.permissions.CountPending(ctx, sessionID)
}

// CancelForSession cancels a session's pending requests so blocked approval
// calls return deny promptly.
func (s *Permission) CancelForSession(ctx context.Context, sessionID string) (int64, error) {
	return s.permissions.CancelForSession(ctx, sessionID)
}
