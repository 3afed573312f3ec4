package repos

import (
	"time"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

type PermissionRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func (s *PermissionRepositoryTestSuite) TestCreateRequest() {
	req := s.createTestRequest("sess-1", "")

	s.NotEmpty(req.ID)
	s.Equal(models.PermissionStatusPending, req.Status)
	s.False(req.ExpiresAt.IsZero())
}

func (s *PermissionRepositoryTestSuite) TestCreateRequestValidation() {
	s.Error(s.permissionRepo.CreateRequest(s.ctx, &models.PermissionRequest{ToolName: "Bash"}))
	s.Error(s.permissionRepo.CreateRequest(s.ctx, &models.PermissionRequest{SessionID: "sess-1"}))
}

func (s *PermissionRepositoryTestSuite) TestDecisionRoundTrip() {
	req := s.createTestRequest("sess-1", "")

	s.NoError(s.permissionRepo.RecordDecision(s.ctx, req.ID, models.DecisionAllow))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusApproved, resolved.Status)
	s.Equal(models.DecisionAllow, resolved.Decision)
	s.NotNil(resolved.DecidedAt)

	// Only the first transition out of pending is accepted.
	s.ErrorIs(s.permissionRepo.RecordDecision(s.ctx, req.ID, models.DecisionDeny), ErrAlreadyResolved)

	unchanged, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusApproved, unchanged.Status)
	s.Equal(models.DecisionAllow, unchanged.Decision)
}

func (s *PermissionRepositoryTestSuite) TestDenyDecision() {
	req := s.createTestRequest("sess-1", "")

	s.NoError(s.permissionRepo.RecordDecision(s.ctx, req.ID, models.DecisionDeny))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusDenied, resolved.Status)
	s.Equal(models.DecisionDeny, resolved.Decision)
}

func (s *PermissionRepositoryTestSuite) TestInvalidDecisionRejected() {
	req := s.createTestRequest("sess-1", "")
	s.Error(s.permissionRepo.RecordDecision(s.ctx, req.ID, "maybe"))
}

func (s *PermissionRepositoryTestSuite) TestSupersedesSameToolUse() {
	first := s.createTestRequest("sess-1", "toolu_01")
	second := s.createTestRequest("sess-1", "toolu_01")

	old, err := s.permissionRepo.GetByID(s.ctx, first.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusSuperseded, old.Status)

	current, err := s.permissionRepo.GetByID(s.ctx, second.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusPending, current.Status)
}

func (s *PermissionRepositoryTestSuite) TestMarkTimeout() {
	req := s.createTestRequest("sess-1", "")

	s.NoError(s.permissionRepo.MarkTimeout(s.ctx, req.ID))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusTimeout, resolved.Status)
}

func (s *PermissionRepositoryTestSuite) TestMarkTimeoutLosesToDecision() {
	req := s.createTestRequest("sess-1", "")
	s.NoError(s.permissionRepo.RecordDecision(s.ctx, req.ID, models.DecisionAllow))

	// A timeout after the decision is a no-op, not an error.
	s.NoError(s.permissionRepo.MarkTimeout(s.ctx, req.ID))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusApproved, resolved.Status)
}

func (s *PermissionRepositoryTestSuite) TestMarkCancelled() {
	req := s.createTestRequest("sess-1", "")

	s.NoError(s.permissionRepo.MarkCancelled(s.ctx, req.ID))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusCancelled, resolved.Status)
}

func (s *PermissionRepositoryTestSuite) TestMarkCancelledLosesToDecision() {
	req := s.createTestRequest("sess-1", "")
	s.NoError(s.permissionRepo.RecordDecision(s.ctx, req.ID, models.DecisionDeny))

	s.NoError(s.permissionRepo.MarkCancelled(s.ctx, req.ID))

	resolved, err := s.permissionRepo.GetByID(s.ctx, req.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusDenied, resolved.Status)
}

func (s *PermissionRepositoryTestSuite) TestExpireStale() {
	s.createTestRequest("sess-1", "")
	decided := s.createTestRequest("sess-2", "")
	s.Require().NoError(s.permissionRepo.RecordDecision(s.ctx, decided.ID, models.DecisionAllow))

	expired, err := s.permissionRepo.ExpireStale(s.ctx, time.Now().Add(time.Minute))
	s.NoError(err)
	s.Equal(int64(1), expired, "only pending requests are swept")

	swept, err := s.permissionRepo.ListBySession(s.ctx, "sess-1", models.PermissionStatusExpired, nil)
	s.NoError(err)
	s.Len(swept, 1)
}

func (s *PermissionRepositoryTestSuite) TestCancelForSession() {
	s.createTestRequest("sess-1", "")
	s.createTestRequest("sess-1", "")
	other := s.createTestRequest("sess-2", "")

	cancelled, err := s.permissionRepo.CancelForSession(s.ctx, "sess-1")
	s.NoError(err)
	s.Equal(int64(2), cancelled)

	untouched, err := s.permissionRepo.GetByID(s.ctx, other.ID)
	s.NoError(err)
	s.Equal(models.PermissionStatusPending, untouched.Status)
}

func (s *PermissionRepositoryTestSuite) TestCountPending() {
	s.createTestRequest("sess-1", "")
	s.createTestRequest("sess-1", "")
	decided := s.createTestRequest("sess-1", "")
	s.Require().NoError(s.permissionRepo.RecordDecision(s.ctx, decided.ID, models.DecisionDeny))

	count, err := s.permissionRepo.CountPending(s.ctx, "sess-1")
	s.NoError(err)
	s.Equal(int64(2), count)

	count, err = s.permissionRepo.CountPending(s.ctx, "sess-2")
	s.NoError(err)
	s.Zero(count)
}
