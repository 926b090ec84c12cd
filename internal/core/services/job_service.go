package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"vereniging-incasso/internal/config"
	"vereniging-incasso/internal/pkg/cache"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotCancelable = errors.New("job can only be cancelled while queued or running")
	ErrJobNotRetryable  = errors.New("job can only be retried after failure")
	ErrRetriesExhausted = errors.New("job retry limit reached")
)

// Job queues, by expected runtime
const (
	QueueShort   = "short"
	QueueDefault = "default"
	QueueLong    = "long"
)

// Job statuses
const (
	JobStatusQueued    = "Queued"
	JobStatusRunning   = "Running"
	JobStatusCompleted = "Completed"
	JobStatusFailed    = "Failed"
	JobStatusRetrying  = "Retrying"
	JobStatusCancelled = "Cancelled"
)

// JobFunc is the work a background job performs. The context carries the
// queue's timeout and is cancelled when the job is cancelled.
type JobFunc func(ctx context.Context) (interface{}, error)

// JobStatus is the externally visible state of a job. It lives in the TTL
// cache only, so records disappear after the TTL and on restart.
type JobStatus struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Queue      string      `json:"queue"`
	Status     string      `json:"status"`
	UserID     uint        `json:"user_id"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	RetryCount int         `json:"retry_count"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

type job struct {
	id     string
	typ    string
	queue  string
	userID uint
	fn     JobFunc
}

type queueLane struct {
	name    string
	ch      chan *job
	workers int
	timeout time.Duration
}

const jobCachePrefix = "job:"

// JobService runs background work on three fixed-priority lanes with
// per-lane timeouts. Job status is kept in the TTL cache; completed records
// age out rather than accumulate.
type JobService struct {
	store  *cache.Store
	notify *NotifyService
	cfg    config.JobsConfig

	lanes map[string]*queueLane

	mu      sync.Mutex
	jobs    map[string]*job
	cancels map[string]context.CancelFunc

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewJobService(store *cache.Store, notify *NotifyService, cfg config.JobsConfig) *JobService {
	s := &JobService{
		store:  store,
		notify: notify,
		cfg:    cfg,
		lanes: map[string]*queueLane{
			QueueShort:   {name: QueueShort, ch: make(chan *job, cfg.ShortQueueSize), workers: 4, timeout: 120 * time.Second},
			QueueDefault: {name: QueueDefault, ch: make(chan *job, cfg.DefaultQueueSize), workers: 2, timeout: 300 * time.Second},
			QueueLong:    {name: QueueLong, ch: make(chan *job, cfg.LongQueueSize), workers: 1, timeout: 600 * time.Second},
		},
		jobs:    make(map[string]*job),
		cancels: make(map[string]context.CancelFunc),
		stop:    make(chan struct{}),
	}
	return s
}

// Start launches the worker goroutines and the definition janitor
func (s *JobService) Start() {
	for _, lane := range s.lanes {
		for i := 0; i < lane.workers; i++ {
			s.wg.Add(1)
			go s.worker(lane)
		}
	}
	s.wg.Add(1)
	go s.janitor()
	log.Println("🚀 Job workers started (short=4, default=2, long=1)")
}

// Stop signals workers to drain and waits for in-flight jobs
func (s *JobService) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("🛑 Job workers stopped")
}

// Enqueue submits work to the named lane. If the lane's buffer is full the
// job runs synchronously in the caller's goroutine instead of being dropped.
func (s *JobService) Enqueue(queue, jobType string, userID uint, fn JobFunc) (*JobStatus, error) {
	lane, ok := s.lanes[queue]
	if !ok {
		return nil, fmt.Errorf("unknown job queue %q", queue)
	}

	j := &job{
		id:     uuid.NewString(),
		typ:    jobType,
		queue:  queue,
		userID: userID,
		fn:     fn,
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	status := &JobStatus{
		ID:         j.id,
		Type:       jobType,
		Queue:      queue,
		Status:     JobStatusQueued,
		UserID:     userID,
		EnqueuedAt: time.Now(),
	}
	s.putStatus(status)

	select {
	case lane.ch <- j:
		return status, nil
	default:
		log.Printf("⚠️ Job queue %q full, running %s synchronously", queue, jobType)
		s.execute(j, lane.timeout)
		return s.GetStatus(j.id)
	}
}

// GetStatus returns a snapshot of the cached status of a job
func (s *JobService) GetStatus(jobID string) (*JobStatus, error) {
	v, ok := s.store.Get(jobCachePrefix + jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	status, ok := v.(*JobStatus)
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *status
	return &cp, nil
}

// ListJobs returns snapshots of all job statuses still present in the cache
func (s *JobService) ListJobs() []*JobStatus {
	keys := s.store.Keys(jobCachePrefix)
	statuses := make([]*JobStatus, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.store.Get(k); ok {
			if status, ok := v.(*JobStatus); ok {
				cp := *status
				statuses = append(statuses, &cp)
			}
		}
	}
	return statuses
}

// Cancel stops a job. Queued jobs are marked cancelled and skipped by the
// worker; running jobs have their context cancelled.
func (s *JobService) Cancel(jobID string) error {
	status, err := s.GetStatus(jobID)
	if err != nil {
		return err
	}

	switch status.Status {
	case JobStatusQueued:
		status.Status = JobStatusCancelled
		now := time.Now()
		status.FinishedAt = &now
		s.putStatus(status)
		return nil
	case JobStatusRunning:
		s.mu.Lock()
		cancel, ok := s.cancels[jobID]
		s.mu.Unlock()
		if ok {
			cancel()
		}
		return nil
	default:
		return ErrJobNotCancelable
	}
}

// Retry re-enqueues a failed job after an exponential backoff, capped at 60
// seconds. The retry counter carries over so the limit is total attempts.
func (s *JobService) Retry(jobID string) (*JobStatus, error) {
	status, err := s.GetStatus(jobID)
	if err != nil {
		return nil, err
	}
	if status.Status != JobStatusFailed {
		return nil, ErrJobNotRetryable
	}
	if status.RetryCount >= s.cfg.MaxRetries {
		return nil, ErrRetriesExhausted
	}

	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	status.Status = JobStatusRetrying
	status.RetryCount++
	status.Error = ""
	status.FinishedAt = nil
	s.putStatus(status)

	backoff := retryBackoff(status.RetryCount)
	log.Printf("🔁 Retrying job %s (%s) in %s (attempt %d/%d)", jobID, j.typ, backoff, status.RetryCount, s.cfg.MaxRetries)

	lane := s.lanes[j.queue]
	time.AfterFunc(backoff, func() {
		select {
		case lane.ch <- j:
		default:
			s.execute(j, lane.timeout)
		}
	})
	return status, nil
}

// retryBackoff returns min(2^attempt, 60) seconds
func retryBackoff(attempt int) time.Duration {
	secs := math.Min(math.Pow(2, float64(attempt)), 60)
	return time.Duration(secs) * time.Second
}

func (s *JobService) worker(lane *queueLane) {
	defer s.wg.Done()
	for {
		select {
		case j := <-lane.ch:
			s.execute(j, lane.timeout)
		case <-s.stop:
			return
		}
	}
}

func (s *JobService) execute(j *job, timeout time.Duration) {
	status, err := s.GetStatus(j.id)
	if err != nil {
		return
	}
	if status.Status == JobStatusCancelled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.mu.Lock()
	s.cancels[j.id] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, j.id)
		s.mu.Unlock()
	}()

	now := time.Now()
	status.Status = JobStatusRunning
	status.StartedAt = &now
	s.putStatus(status)
	log.Printf("⚙️ Job %s (%s) started on %s queue", j.id, j.typ, j.queue)

	result, err := j.fn(ctx)
	finished := time.Now()
	status.FinishedAt = &finished

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			status.Status = JobStatusCancelled
			s.putStatus(status)
			log.Printf("🛑 Job %s (%s) cancelled", j.id, j.typ)
			return
		}
		status.Status = JobStatusFailed
		status.Error = err.Error()
		s.putStatus(status)
		log.Printf("❌ Job %s (%s) failed: %v", j.id, j.typ, err)
		if s.notify != nil {
			s.notify.NotifyJobFailed(j.userID, j.id, j.typ, err.Error())
		}
		return
	}

	status.Status = JobStatusCompleted
	status.Result = result
	s.putStatus(status)
	log.Printf("✅ Job %s (%s) completed in %s", j.id, j.typ, finished.Sub(now).Round(time.Millisecond))
	if s.notify != nil {
		s.notify.NotifyJobCompleted(j.userID, j.id, j.typ)
	}
}

// putStatus caches a snapshot of the status. Records handed out earlier stay
// frozen; only the cached copy advances.
func (s *JobService) putStatus(status *JobStatus) {
	ttl := time.Duration(s.cfg.StatusTTLSecs) * time.Second
	cp := *status
	s.store.Set(jobCachePrefix+status.ID, &cp, ttl)
}

const jobPruneInterval = time.Minute

func (s *JobService) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(jobPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pruneExpired()
		case <-s.stop:
			return
		}
	}
}

// pruneExpired drops job definitions whose status record has aged out of the
// cache, so the jobs map does not grow for the life of the process.
func (s *JobService) pruneExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		if _, ok := s.store.Get(jobCachePrefix + id); !ok {
			delete(s.jobs, id)
		}
	}
}
