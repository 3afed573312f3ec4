package repos

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

const testLockDuration = time.Minute

var allTypes = []string{"maintenance", "session-runner"}

type JobRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func (s *JobRepositoryTestSuite) TestEnqueueDefaults() {
	job := s.createTestJob("maintenance", 0)

	s.NotZero(job.ID)
	s.Equal(models.JobStatusPending, job.Status)
	s.Zero(job.Attempts)
	s.Equal(models.DefaultMaxAttempts, job.MaxAttempts)
}

func (s *JobRepositoryTestSuite) TestEnqueueRequiresType() {
	s.Error(s.jobRepo.Enqueue(s.ctx, &models.Job{}))
}

func (s *JobRepositoryTestSuite) TestClaimNextEmpty() {
	_, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.ErrorIs(err, ErrNoClaimableJob)
}

func (s *JobRepositoryTestSuite) TestClaimOrdering() {
	a := s.createTestJob("maintenance", 5)
	b := s.createTestJob("maintenance", 8)

	first, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.Equal(b.ID, first.ID, "higher priority claims first")

	second, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.Equal(a.ID, second.ID)
}

func (s *JobRepositoryTestSuite) TestClaimFIFOWithinPriority() {
	first := s.createTestJob("maintenance", 0)
	s.createTestJob("maintenance", 0)

	claimed, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.Equal(first.ID, claimed.ID, "equal priority claims oldest first")
}

func (s *JobRepositoryTestSuite) TestClaimFiltersTypes() {
	s.createTestJob("unhandled-type", 0)

	_, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.ErrorIs(err, ErrNoClaimableJob, "jobs without a registered handler stay queued")
}

func (s *JobRepositoryTestSuite) TestClaimSetsLock() {
	s.createTestJob("maintenance", 0)

	job, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.Equal(models.JobStatusActive, job.Status)
	s.Equal("w1", job.ClaimedBy)
	s.NotNil(job.LockExpiresAt)
}

func (s *JobRepositoryTestSuite) TestNoDoubleClaim() {
	const jobCount = 4
	const claimers = 8

	for i := 0; i < jobCount; i++ {
		s.createTestJob("maintenance", 0)
	}

	var (
		mu      sync.Mutex
		claimed []uint
		misses  int
		wg      sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			job, err := s.jobRepo.ClaimNext(s.ctx, worker, allTypes, testLockDuration)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				misses++
				return
			}
			claimed = append(claimed, job.ID)
		}("w" + string(rune('a'+i)))
	}
	wg.Wait()

	s.Len(claimed, jobCount)
	s.Equal(claimers-jobCount, misses)

	seen := make(map[uint]bool)
	for _, id := range claimed {
		s.False(seen[id], "job %d claimed twice", id)
		seen[id] = true
	}
}

func (s *JobRepositoryTestSuite) TestExpiredLockIsReclaimable() {
	s.createTestJob("maintenance", 0)

	// A negative lock duration produces an already-expired claim.
	job, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, -time.Second)
	s.NoError(err)

	reclaimed, err := s.jobRepo.ClaimNext(s.ctx, "w2", allTypes, testLockDuration)
	s.NoError(err)
	s.Equal(job.ID, reclaimed.ID)
	s.Equal("w2", reclaimed.ClaimedBy)
}

func (s *JobRepositoryTestSuite) TestUnexpiredLockIsNotReclaimable() {
	s.createTestJob("maintenance", 0)

	_, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	_, err = s.jobRepo.ClaimNext(s.ctx, "w2", allTypes, testLockDuration)
	s.ErrorIs(err, ErrNoClaimableJob)
}

func (s *JobRepositoryTestSuite) TestExtendLock() {
	s.createTestJob("maintenance", 0)
	job, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	held, err := s.jobRepo.ExtendLock(s.ctx, job.ID, "w1", testLockDuration)
	s.NoError(err)
	s.True(held)

	// Another worker never holds this claim.
	held, err = s.jobRepo.ExtendLock(s.ctx, job.ID, "w2", testLockDuration)
	s.NoError(err)
	s.False(held)

	s.NoError(s.jobRepo.Cancel(s.ctx, job.ID))
	held, err = s.jobRepo.ExtendLock(s.ctx, job.ID, "w1", testLockDuration)
	s.NoError(err)
	s.False(held, "cancelled job is no longer held")
}

func (s *JobRepositoryTestSuite) TestCompleteStoresResult() {
	s.createTestJob("maintenance", 0)
	job, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	result := json.RawMessage(`{"sizeBefore":4096,"sizeAfter":2048}`)
	s.NoError(s.jobRepo.Complete(s.ctx, job.ID, result))

	updated, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusCompleted, updated.Status)
	s.JSONEq(string(result), string(updated.Result))
	s.Empty(updated.ClaimedBy)
	s.Nil(updated.LockExpiresAt)
}

func (s *JobRepositoryTestSuite) TestCompleteRequiresActive() {
	job := s.createTestJob("maintenance", 0)
	s.ErrorIs(s.jobRepo.Complete(s.ctx, job.ID, nil), ErrInvalidTransition)
}

func (s *JobRepositoryTestSuite) TestFailLosesToCancel() {
	s.createTestJob("maintenance", 0)
	job, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	// A cancellation landing before the worker records its failure must
	// stand; Fail may never move a job backwards out of cancelled.
	s.NoError(s.jobRepo.Cancel(s.ctx, job.ID))
	s.ErrorIs(s.jobRepo.Fail(s.ctx, job.ID, "handler failed", 0), ErrInvalidTransition)

	final, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusCancelled, final.Status)
	s.Equal(0, final.Attempts)
	s.Empty(final.Error)
}

func (s *JobRepositoryTestSuite) TestRetryThenTerminal() {
	job := &models.Job{Type: "maintenance", MaxAttempts: 2}
	s.Require().NoError(s.jobRepo.Enqueue(s.ctx, job))

	claimed, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.NoError(s.jobRepo.Fail(s.ctx, claimed.ID, "first failure", 0))

	afterFirst, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusPending, afterFirst.Status)
	s.Equal(1, afterFirst.Attempts)
	s.Equal("first failure", afterFirst.Error)

	claimed, err = s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.NoError(s.jobRepo.Fail(s.ctx, claimed.ID, "second failure", 0))

	afterSecond, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusFailed, afterSecond.Status)
	s.Equal(2, afterSecond.Attempts)
	s.Equal("second failure", afterSecond.Error)

	_, err = s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.ErrorIs(err, ErrNoClaimableJob, "terminally failed job is never claimable again")
}

func (s *JobRepositoryTestSuite) TestFailBackoffDelaysReclaim() {
	s.createTestJob("maintenance", 0)
	claimed, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	s.NoError(s.jobRepo.Fail(s.ctx, claimed.ID, "transient", time.Hour))

	_, err = s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.ErrorIs(err, ErrNoClaimableJob, "job inside its backoff window is not claimable")
}

func (s *JobRepositoryTestSuite) TestFailTerminal() {
	s.createTestJob("maintenance", 0)
	claimed, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)

	s.NoError(s.jobRepo.FailTerminal(s.ctx, claimed.ID, "bad payload"))

	updated, err := s.jobRepo.GetByID(s.ctx, claimed.ID)
	s.NoError(err)
	s.Equal(models.JobStatusFailed, updated.Status)
	s.Equal("bad payload", updated.Error)
}

func (s *JobRepositoryTestSuite) TestCancel() {
	job := s.createTestJob("maintenance", 0)

	s.NoError(s.jobRepo.Cancel(s.ctx, job.ID))

	updated, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusCancelled, updated.Status)

	// Terminal states cannot be cancelled again.
	s.ErrorIs(s.jobRepo.Cancel(s.ctx, job.ID), ErrInvalidTransition)
}

func (s *JobRepositoryTestSuite) TestList() {
	s.createTestJob("maintenance", 0)
	job := s.createTestJob("session-runner", 0)
	s.Require().NoError(s.jobRepo.Cancel(s.ctx, job.ID))

	all, err := s.jobRepo.List(s.ctx, JobFilter{}, nil)
	s.NoError(err)
	s.Len(all, 2)

	pending, err := s.jobRepo.List(s.ctx, JobFilter{Status: models.JobStatusPending}, nil)
	s.NoError(err)
	s.Len(pending, 1)

	runners, err := s.jobRepo.List(s.ctx, JobFilter{Type: "session-runner"}, nil)
	s.NoError(err)
	s.Len(runners, 1)
}

func (s *JobRepositoryTestSuite) TestStats() {
	s.createTestJob("maintenance", 0)
	s.createTestJob("maintenance", 0)
	job := s.createTestJob("maintenance", 0)
	s.Require().NoError(s.jobRepo.Cancel(s.ctx, job.ID))

	stats, err := s.jobRepo.Stats(s.ctx)
	s.NoError(err)
	s.Equal(int64(2), stats[models.JobStatusPending])
	s.Equal(int64(1), stats[models.JobStatusCancelled])
}

func (s *JobRepositoryTestSuite) TestDeleteTerminalBefore() {
	done := s.createTestJob("maintenance", 0)
	s.createTestJob("maintenance", 0) // stays pending

	claimed, err := s.jobRepo.ClaimNext(s.ctx, "w1", allTypes, testLockDuration)
	s.NoError(err)
	s.Require().Equal(done.ID, claimed.ID)
	s.NoError(s.jobRepo.Complete(s.ctx, done.ID, nil))

	deleted, err := s.jobRepo.DeleteTerminalBefore(s.ctx, time.Now().Add(time.Minute))
	s.NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.jobRepo.GetByID(s.ctx, done.ID)
	s.Error(err)
}
