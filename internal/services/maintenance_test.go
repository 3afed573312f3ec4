package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/mzxrai/memva-sub002/internal/db"
	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/queue"
)

type MaintenanceTestSuite struct {
	suite.Suite
	ctx         context.Context
	db          *gorm.DB
	jobRepo     *repos.JobRepository
	permissions *repos.PermissionRepository
	service     *Maintenance
}

func (s *MaintenanceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = newTestDB(s.T())
	s.jobRepo = repos.NewJobRepository(s.db)
	s.permissions = repos.NewPermissionRepository(s.db)
	s.service = NewMaintenanceService(s.db, db.Options{}, s.jobRepo, s.permissions)
}

func (s *MaintenanceTestSuite) handle(payload MaintenancePayload) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	s.Require().NoError(err)
	return s.service.HandleJob(s.ctx, &models.Job{Type: JobTypeMaintenance, Payload: raw})
}

func (s *MaintenanceTestSuite) TestInvalidPayloadFailsTerminally() {
	_, err := s.service.HandleJob(s.ctx, &models.Job{Payload: json.RawMessage(`not json`)})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
}

func (s *MaintenanceTestSuite) TestMissingOperationFailsTerminally() {
	_, err := s.handle(MaintenancePayload{})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
}

func (s *MaintenanceTestSuite) TestUnknownOperationFailsTerminally() {
	_, err := s.handle(MaintenancePayload{Operation: "defrag-floppy"})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
	s.Contains(err.Error(), "defrag-floppy")
}

func (s *MaintenanceTestSuite) TestQueueCleanup() {
	old := &models.Job{Type: JobTypeMaintenance, Status: models.JobStatusCompleted}
	recent := &models.Job{Type: JobTypeMaintenance, Status: models.JobStatusCompleted}
	pending := &models.Job{Type: JobTypeMaintenance, Status: models.JobStatusPending}
	s.Require().NoError(s.db.Create(old).Error)
	s.Require().NoError(s.db.Create(recent).Error)
	s.Require().NoError(s.db.Create(pending).Error)

	// Backdate past the retention window. UpdateColumn skips gorm's
	// automatic updated_at touch.
	s.Require().NoError(s.db.Model(old).
		UpdateColumn("updated_at", time.Now().AddDate(0, 0, -40)).Error)

	raw, err := s.handle(MaintenancePayload{Operation: OpQueueCleanup, OlderThanDays: 30})
	s.Require().NoError(err)

	var result QueueCleanupResult
	s.Require().NoError(json.Unmarshal(raw, &result))
	s.Equal(int64(1), result.Deleted)

	var remaining int64
	s.Require().NoError(s.db.Model(&models.Job{}).Count(&remaining).Error)
	s.Equal(int64(2), remaining)
}

func (s *MaintenanceTestSuite) TestPermissionCleanup() {
	stale := &models.PermissionRequest{SessionID: "sess-1", ToolName: "Bash", ToolUseID: "tu-1"}
	fresh := &models.PermissionRequest{SessionID: "sess-1", ToolName: "Bash", ToolUseID: "tu-2"}
	s.Require().NoError(s.permissions.CreateRequest(s.ctx, stale))
	s.Require().NoError(s.permissions.CreateRequest(s.ctx, fresh))
	s.Require().NoError(s.db.Model(stale).
		UpdateColumn("created_at", time.Now().Add(-48*time.Hour)).Error)

	raw, err := s.handle(MaintenancePayload{Operation: OpPermissionCleanup, OlderThanHours: 24})
	s.Require().NoError(err)

	var result PermissionCleanupResult
	s.Require().NoError(json.Unmarshal(raw, &result))
	s.Equal(int64(1), result.Expired)

	got, err := s.permissions.GetByID(s.ctx, stale.ID)
	s.Require().NoError(err)
	s.Equal(models.PermissionStatusExpired, got.Status)
}

func (s *MaintenanceTestSuite) TestVacuumReportsSizes() {
	raw, err := s.handle(MaintenancePayload{Operation: OpVacuumDatabase})
	s.Require().NoError(err)

	var result VacuumResult
	s.Require().NoError(json.Unmarshal(raw, &result))
	s.Positive(result.SizeBefore)
	s.Positive(result.SizeAfter)
}

func (s *MaintenanceTestSuite) TestBackupRequiresAbsolutePath() {
	_, err := s.handle(MaintenancePayload{Operation: OpBackupDatabase})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)

	_, err = s.handle(MaintenancePayload{Operation: OpBackupDatabase, DestinationPath: "relative/backup.db"})
	s.Require().ErrorIs(err, queue.ErrNonRetryable)
}

func (s *MaintenanceTestSuite) TestBackupWritesSQLiteCopy() {
	dest := filepath.Join(s.T().TempDir(), "backup.db")

	raw, err := s.handle(MaintenancePayload{Operation: OpBackupDatabase, DestinationPath: dest})
	s.Require().NoError(err)

	var result BackupResult
	s.Require().NoError(json.Unmarshal(raw, &result))
	s.Equal(dest, result.BackupPath)
	s.Positive(result.Size)
}

// TestMaintenanceThroughWorker enqueues a maintenance job and lets a real
// worker claim, run and settle it, checking the stored result end to end.
func (s *MaintenanceTestSuite) TestMaintenanceThroughWorker() {
	jobs := NewJobService(s.jobRepo)
	job, err := jobs.EnqueueMaintenance(s.ctx, MaintenancePayload{Operation: OpVacuumDatabase})
	s.Require().NoError(err)

	registry := queue.NewRegistry(JobTypeMaintenance)
	s.Require().NoError(registry.Register(JobTypeMaintenance, s.service.HandleJob))

	worker := queue.NewWorker(s.jobRepo, registry, queue.WorkerConfig{
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		LockDuration: time.Minute,
		DrainTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(s.T(), func() bool {
		got, err := s.jobRepo.GetByID(s.ctx, job.ID)
		return err == nil && got.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "maintenance job never completed")

	got, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)

	var result VacuumResult
	s.Require().NoError(json.Unmarshal(got.Result, &result))
	s.Positive(result.SizeBefore)
}

func TestMaintenanceSuite(t *testing.T) {
	suite.Run(t, new(MaintenanceTestSuite))
}
