package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"orderengine/src/model"
	"orderengine/src/pipeline"
)

// ErrQueueClosed is returned by Submit once Shutdown has begun.
var ErrQueueClosed = errors.New("order queue closed")

const (
	jobKeyPrefix  = "job:"
	doneKeyPrefix = "done:"
)

// Runner executes one attempt of a job.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) pipeline.RunResult
}

// jobStore keeps admitted jobs durable until they finish and remembers
// finished identifiers for JobTTL.
type jobStore interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Scan(prefix string) (map[string][]byte, error)
}

// exceptionRecorder persists terminal failures for later inspection.
type exceptionRecorder interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Admission is the answer to a submission.
type Admission struct {
	OrderID string
	Status  model.OrderStatus
	// Duplicate is set when the order was already waiting, delayed or running,
	// or finished within JobTTL. Status then holds the terminal status.
	Duplicate bool
}

// Metrics is a snapshot of the queue counters. Delayed retries count as waiting.
type Metrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

type jobState int

const (
	stateWaiting jobState = iota
	stateDelayed
	stateActive
)

// Queue admits orders, runs them on a bounded worker pool under a rolling
// rate limit and retries retryable failures with exponential backoff.
// An order identifier is never waiting, delayed or running more than once.
type Queue struct {
	cfg        Config
	logger     *logrus.Entry
	runner     Runner
	jobs       jobStore
	exceptions exceptionRecorder
	limiter    *WindowLimiter
	now        func() time.Time

	mu        sync.Mutex
	pending   []pipeline.Job
	states    map[string]jobState
	timers    map[string]*time.Timer
	completed int
	failed    int
	closed    bool

	wake  chan struct{}
	slots chan struct{}
	wg    sync.WaitGroup

	started      bool
	stopDispatch context.CancelFunc
	dispatchDone chan struct{}
	runCtx       context.Context
	cancelRuns   context.CancelFunc
}

func New(cfg Config, logger *logrus.Entry, runner Runner, jobs jobStore) *Queue {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		logger:     logger.WithField("component", "queue"),
		runner:     runner,
		jobs:       jobs,
		limiter:    NewWindowLimiter(cfg.RatePerWindow, cfg.RateWindow),
		now:        time.Now,
		states:     make(map[string]jobState),
		timers:     make(map[string]*time.Timer),
		wake:       make(chan struct{}, 1),
		slots:      make(chan struct{}, cfg.Concurrency),
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
	}
}

// WithExceptions records exhausted and fatal jobs through rec.
func (q *Queue) WithExceptions(rec exceptionRecorder) *Queue {
	q.exceptions = rec
	return q
}

func jobKey(orderID string) string {
	return jobKeyPrefix + orderID
}

func doneKey(orderID string) string {
	return doneKeyPrefix + orderID
}

// finishedStatus returns the terminal status recorded for orderID, if any.
func (q *Queue) finishedStatus(orderID string) (model.OrderStatus, bool, error) {
	raw, ok, err := q.jobs.Get(doneKey(orderID))
	if err != nil || !ok {
		return "", false, err
	}
	return model.OrderStatus(raw), true, nil
}

// Submit validates req and enqueues the first attempt of orderID.
// It returns once the job is durably recorded, without waiting for execution.
func (q *Queue) Submit(ctx context.Context, orderID string, req model.CreateOrderRequest) (Admission, error) {
	if strings.TrimSpace(orderID) == "" {
		return Admission{}, &model.ValidationError{Field: "orderId", Reason: "is required"}
	}
	if err := req.Validate(); err != nil {
		return Admission{}, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Admission{}, ErrQueueClosed
	}
	if _, busy := q.states[orderID]; busy {
		q.mu.Unlock()
		q.logger.WithField("order_id", orderID).Info("duplicate submission ignored")
		return Admission{OrderID: orderID, Status: model.StatusPending, Duplicate: true}, nil
	}
	// Reserve the identifier before the store write so a concurrent submit sees it.
	q.states[orderID] = stateWaiting
	q.mu.Unlock()

	// release writes the marker before it frees the identifier.
	status, done, err := q.finishedStatus(orderID)
	if err != nil || done {
		q.mu.Lock()
		delete(q.states, orderID)
		q.mu.Unlock()
		if err != nil {
			return Admission{}, &model.PersistenceError{Op: "lookup finished job", Err: err}
		}
		q.logger.WithFields(logrus.Fields{"order_id": orderID, "status": status}).Info("submission of finished order ignored")
		return Admission{OrderID: orderID, Status: status, Duplicate: true}, nil
	}

	job := pipeline.NewJob(orderID, req, q.now())
	if err := q.saveJob(job); err != nil {
		q.mu.Lock()
		delete(q.states, orderID)
		q.mu.Unlock()
		return Admission{}, &model.PersistenceError{Op: "enqueue job", Err: err}
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()

	q.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"user_id":  req.UserID,
	}).Info("order queued")

	return Admission{OrderID: orderID, Status: model.StatusPending}, nil
}

// Recover re-enqueues every job record left in the store by a previous process.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	records, err := q.jobs.Scan(jobKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan job records: %w", err)
	}

	recovered := make([]pipeline.Job, 0, len(records))
	for key, raw := range records {
		var job pipeline.Job
		if err := json.Unmarshal(raw, &job); err != nil || job.Validate() != nil {
			q.logger.WithField("key", key).Warn("dropping unreadable job record")
			_ = q.jobs.Delete(key)
			continue
		}
		if job.Attempt < 1 {
			job.Attempt = 1
		}
		if _, done, err := q.finishedStatus(job.OrderID); err != nil {
			return 0, fmt.Errorf("lookup finished job %s: %w", job.OrderID, err)
		} else if done {
			q.logger.WithField("order_id", job.OrderID).Info("dropping record of finished order")
			_ = q.jobs.Delete(key)
			continue
		}
		recovered = append(recovered, job)
	}
	sort.Slice(recovered, func(i, j int) bool {
		return recovered[i].EnqueuedAt.Before(recovered[j].EnqueuedAt)
	})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrQueueClosed
	}
	n := 0
	for _, job := range recovered {
		if _, busy := q.states[job.OrderID]; busy {
			continue
		}
		q.states[job.OrderID] = stateWaiting
		q.pending = append(q.pending, job)
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.signal()
		q.logger.WithField("jobs", n).Info("recovered queued orders")
	}
	return n, nil
}

// Metrics returns the current counters.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	var m Metrics
	for _, s := range q.states {
		if s == stateActive {
			m.Active++
		} else {
			m.Waiting++
		}
	}
	m.Completed = q.completed
	m.Failed = q.failed
	m.Total = m.Waiting + m.Active
	return m
}

// Start launches the dispatcher. Runs started by it outlive ctx; use Shutdown to stop them.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	dctx, stop := context.WithCancel(ctx)
	q.stopDispatch = stop
	q.dispatchDone = make(chan struct{})
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"concurrency":     q.cfg.Concurrency,
		"rate_per_window": q.cfg.RatePerWindow,
		"rate_window":     q.cfg.RateWindow,
	}).Info("order queue started")

	go q.dispatch(dctx)
}

// Shutdown stops admission and retry timers, then waits for in-flight runs.
// Jobs that did not start keep their durable records for Recover.
// If ctx ends first, in-flight runs are cancelled and ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	started := q.started
	q.mu.Unlock()

	if started {
		q.stopDispatch()
		<-q.dispatchDone
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancelRuns()
		q.logger.Info("order queue drained")
		return nil
	case <-ctx.Done():
		q.cancelRuns()
		q.logger.WithError(ctx.Err()).Warn("order queue shutdown deadline reached")
		return ctx.Err()
	}
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.dispatchDone)
	for {
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, ok := q.next(ctx)
		if !ok {
			<-q.slots
			return
		}
		if err := q.limiter.Wait(ctx); err != nil {
			q.requeueFront(job)
			<-q.slots
			return
		}
		if !q.markActive(job.OrderID) {
			q.requeueFront(job)
			<-q.slots
			return
		}

		q.wg.Add(1)
		go q.process(job)
	}
}

// next pops the oldest waiting job, blocking until one exists or ctx ends.
func (q *Queue) next(ctx context.Context) (pipeline.Job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return pipeline.Job{}, false
		}
	}
}

func (q *Queue) requeueFront(job pipeline.Job) {
	q.mu.Lock()
	q.pending = append([]pipeline.Job{job}, q.pending...)
	q.mu.Unlock()
}

func (q *Queue) markActive(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.states[orderID] = stateActive
	return true
}

func (q *Queue) process(job pipeline.Job) {
	defer q.wg.Done()
	defer func() { <-q.slots }()

	log := q.logger.WithFields(logrus.Fields{"order_id": job.OrderID, "attempt": job.Attempt})
	log.Debug("order run started")

	res := q.runner.Run(q.runCtx, job)
	q.finish(job, res, log)
}

func (q *Queue) finish(job pipeline.Job, res pipeline.RunResult, log *logrus.Entry) {
	switch res.Outcome {
	case pipeline.OutcomeSucceeded:
		q.release(job.OrderID, true)
		log.Info("job completed")

	case pipeline.OutcomeRetryable:
		if job.Attempt >= q.cfg.MaxAttempts {
			err := &model.ExhaustedRetriesError{OrderID: job.OrderID, Attempts: job.Attempt, Last: res.Err}
			log.WithError(err).Error("job failed after exhausting attempts")
			q.recordException(job, "finish", err)
			q.release(job.OrderID, false)
			return
		}
		q.scheduleRetry(job, log)

	default:
		log.WithError(res.Err).Error("job failed permanently")
		q.recordException(job, "finish", res.Err)
		q.release(job.OrderID, false)
	}
}

// release ends the life of orderID in the queue. The identifier stays
// reserved by its done marker for JobTTL.
func (q *Queue) release(orderID string, succeeded bool) {
	status := model.StatusFailed
	if succeeded {
		status = model.StatusConfirmed
	}
	if err := q.jobs.Set(doneKey(orderID), []byte(status), q.cfg.JobTTL); err != nil {
		q.logger.WithError(err).WithField("order_id", orderID).Error("failed to record finished order")
	}
	if err := q.jobs.Delete(jobKey(orderID)); err != nil {
		q.logger.WithError(err).WithField("order_id", orderID).Warn("failed to delete job record")
	}

	q.mu.Lock()
	delete(q.states, orderID)
	if succeeded {
		q.completed++
	} else {
		q.failed++
	}
	q.mu.Unlock()
}

func (q *Queue) scheduleRetry(job pipeline.Job, log *logrus.Entry) {
	delay := Backoff(q.cfg.BaseDelay, q.cfg.MaxBackoff, job.Attempt)
	next := job
	next.Attempt++

	if err := q.saveJob(next); err != nil {
		log.WithError(err).Warn("failed to persist retry record")
	}

	q.mu.Lock()
	q.states[job.OrderID] = stateDelayed
	if q.closed {
		// The stored record carries the next attempt for Recover.
		q.mu.Unlock()
		log.Info("retry deferred to next start")
		return
	}
	q.timers[job.OrderID] = time.AfterFunc(delay, func() { q.enqueueRetry(next) })
	q.mu.Unlock()

	log.WithFields(logrus.Fields{"next_attempt": next.Attempt, "delay": delay}).Warn("job failed, retry scheduled")
}

func (q *Queue) enqueueRetry(job pipeline.Job) {
	q.mu.Lock()
	delete(q.timers, job.OrderID)
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.states[job.OrderID] = stateWaiting
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) saveJob(job pipeline.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.jobs.Set(jobKey(job.OrderID), raw, q.cfg.JobTTL)
}

func (q *Queue) recordException(job pipeline.Job, method string, cause error) {
	if q.exceptions == nil || cause == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"attempt":  job.Attempt,
		"tokenIn":  job.TokenIn,
		"tokenOut": job.TokenOut,
		"amountIn": job.AmountIn,
	})
	exc := &model.Exception{
		Service: "order_engine",
		Module:  "queue",
		Method:  method,
		Message: cause.Error(),
		Level:   "error",
		OrderID: job.OrderID,
		Context: string(details),
	}
	if err := q.exceptions.Create(context.Background(), exc); err != nil {
		q.logger.WithError(err).WithField("order_id", job.OrderID).Warn("failed to record exception")
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
