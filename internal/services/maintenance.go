package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/mzxrai/memva-sub002/internal/db"
	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
	"github.com/mzxrai/memva-sub002/internal/queue"
)

// Maintenance operations carried in the job payload.
const (
	// OpQueueCleanup deletes terminal jobs older than a retention window
	OpQueueCleanup = "queue-cleanup"
	// OpVacuumDatabase compacts the database
	OpVacuumDatabase = "vacuum-database"
	// OpBackupDatabase writes a database backup to a destination path
	OpBackupDatabase = "backup-database"
	// OpPermissionCleanup expires stale pending permission requests
	OpPermissionCleanup = "permission-cleanup"
)

// Default retention windows applied when the payload leaves them unset.
const (
	DefaultQueueRetentionDays       = 30
	DefaultPermissionRetentionHours = 24
)

// MaintenancePayload is the typed payload consumed by the maintenance
// handler. Operation selects which of the other fields matter.
type MaintenancePayload struct {
	Operation       string `json:"operation"`
	OlderThanDays   int    `json:"older_than_days,omitempty"`
	OlderThanHours  int    `json:"older_than_hours,omitempty"`
	DestinationPath string `json:"destination_path,omitempty"`
}

// QueueCleanupResult reports how many terminal jobs were deleted.
type QueueCleanupResult struct {
	Deleted int64 `json:"deleted"`
}

// VacuumResult reports database size before and after compaction, in bytes.
type VacuumResult struct {
	SizeBefore int64 `json:"size_before"`
	SizeAfter  int64 `json:"size_after"`
}

// BackupResult reports where the backup landed and its size in bytes.
type BackupResult struct {
	BackupPath string `json:"backup_path"`
	Size       int64  `json:"size"`
}

// PermissionCleanupResult reports how many stale requests were expired.
type PermissionCleanupResult struct {
	Expired int64 `json:"expired"`
}

// Maintenance implements the maintenance job handler: queue cleanup,
// database compaction, database backup and the stale-permission sweep.
type Maintenance struct {
	db          *gorm.DB
	dbOpts      db.Options
	jobRepo     *repos.JobRepository
	permissions *repos.PermissionRepository
}

// NewMaintenanceService creates a new maintenance service instance. dbOpts
// is only consulted by the postgres backup path to drive pg_dump.
func NewMaintenanceService(gdb *gorm.DB, dbOpts db.Options, jobRepo *repos.JobRepository, permissions *repos.PermissionRepository) *Maintenance {
	return &Maintenance{db: gdb, dbOpts: dbOpts, jobRepo: jobRepo, permissions: permissions}
}

// HandleJob is the queue handler for JobTypeMaintenance. Malformed payloads
// and unknown operations are validation errors and fail terminally; I/O
// failures inside an operation are retryable.
func (m *Maintenance) HandleJob(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload MaintenancePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, queue.NonRetryable(fmt.Errorf("invalid maintenance payload: %w", err))
	}

	var (
		result interface{}
		err    error
	)
	switch payload.Operation {
	case OpQueueCleanup:
		result, err = m.queueCleanup(ctx, payload)
	case OpVacuumDatabase:
		result, err = m.vacuumDatabase(ctx)
	case OpBackupDatabase:
		result, err = m.backupDatabase(ctx, payload)
	case OpPermissionCleanup:
		result, err = m.permissionCleanup(ctx, payload)
	case "":
		return nil, queue.NonRetryable(fmt.Errorf("maintenance operation is required"))
	default:
		return nil, queue.NonRetryable(fmt.Errorf("unknown maintenance operation: %s", payload.Operation))
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal maintenance result: %w", err)
	}
	return raw, nil
}

func (m *Maintenance) queueCleanup(ctx context.Context, payload MaintenancePayload) (*QueueCleanupResult, error) {
	days := payload.OlderThanDays
	if days <= 0 {
		days = DefaultQueueRetentionDays
	}

	deleted, err := m.jobRepo.DeleteTerminalBefore(ctx, CleanupCutoff(days))
	if err != nil {
		return nil, err
	}
	logger.Infof("Queue cleanup deleted %d terminal jobs older than %d days", deleted, days)
	return &QueueCleanupResult{Deleted: deleted}, nil
}

func (m *Maintenance) permissionCleanup(ctx context.Context, payload MaintenancePayload) (*PermissionCleanupResult, error) {
	hours := payload.OlderThanHours
	if hours <= 0 {
		hours = DefaultPermissionRetentionHours
	}

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	expired, err := m.permissions.ExpireStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	logger.Infof("Permission cleanup expired %d stale requests older than %dh", expired, hours)
	return &PermissionCleanupResult{Expired: expired}, nil
}

func (m *Maintenance) vacuumDatabase(ctx context.Context) (*VacuumResult, error) {
	before, err := m.databaseSize(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return nil, fmt.Errorf("vacuum failed: %w", err)
	}
	after, err := m.databaseSize(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("Database vacuum complete: %d -> %d bytes", before, after)
	return &VacuumResult{SizeBefore: before, SizeAfter: after}, nil
}

func (m *Maintenance) backupDatabase(ctx context.Context, payload MaintenancePayload) (*BackupResult, error) {
	dest := payload.DestinationPath
	if dest == "" {
		return nil, queue.NonRetryable(fmt.Errorf("backup destination_path is required"))
	}
	if !filepath.IsAbs(dest) {
		return nil, queue.NonRetryable(fmt.Errorf("backup destination_path must be absolute: %s", dest))
	}

	switch m.db.Dialector.Name() {
	case "sqlite":
		if err := m.db.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
			return nil, fmt.Errorf("sqlite backup failed: %w", err)
		}
	case "postgres":
		cmd := exec.CommandContext(ctx, "pg_dump",
			"--host", m.dbOpts.Host,
			"--port", strconv.Itoa(m.dbOpts.Port),
			"--username", m.dbOpts.User,
			"--file", dest,
			m.dbOpts.DBName,
		)
		cmd.Env = append(os.Environ(), "PGPASSWORD="+m.dbOpts.Password)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("pg_dump failed: %w: %s", err, out)
		}
	default:
		return nil, queue.NonRetryable(fmt.Errorf("backup not supported for %s", m.db.Dialector.Name()))
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}
	logger.Infof("Database backup written to %s (%d bytes)", dest, info.Size())
	return &BackupResult{BackupPath: dest, Size: info.Size()}, nil
}

// databaseSize returns the database size in bytes for the active driver.
func (m *Maintenance) databaseSize(ctx context.Context) (int64, error) {
	switch m.db.Dialector.Name() {
	case "postgres":
		var size int64
		err := m.db.WithContext(ctx).Raw("SELECT pg_database_size(current_database())").Scan(&size).Error
		if err != nil {
			return 0, fmt.Errorf("failed to read database size: %w", err)
		}
		return size, nil
	case "sqlite":
		var pageCount, pageSize int64
		if err := m.db.WithContext(ctx).Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
			return 0, fmt.Errorf("failed to read page count: %w", err)
		}
		if err := m.db.WithContext(ctx).Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
			return 0, fmt.Errorf("failed to read page size: %w", err)
		}
		return pageCount * pageSize, nil
	default:
		return 0, fmt.Errorf("database size not supported for %s", m.db.Dialector.Name())
	}
}
