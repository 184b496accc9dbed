package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"orderengine/src/model"
	"orderengine/src/repository"
	"orderengine/src/venue"
)

type memoryStore struct {
	mu         sync.Mutex
	orders     map[string]*model.Order
	statuses   []model.OrderStatus
	executions []model.ExecutionResult
	reasons    []string

	createErr error
	updateErr map[model.OrderStatus]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: map[string]*model.Order{}, updateErr: map[model.OrderStatus]error{}}
}

func (s *memoryStore) CreateOrderIfAbsent(_ context.Context, order *model.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return false, s.createErr
	}
	if _, ok := s.orders[order.OrderID]; ok {
		return false, nil
	}
	s.orders[order.OrderID] = order
	return true, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, orderID string, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[status]; err != nil {
		return err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *memoryStore) AppendExecutionResult(_ context.Context, result *model.ExecutionResult, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAttempt(result.OrderID, result.Attempt) {
		return errDuplicateAttempt
	}
	if failureReason != "" {
		result.FailureReason = &failureReason
		result.TxHash = nil
	}
	s.executions = append(s.executions, *result)
	s.reasons = append(s.reasons, failureReason)
	return nil
}

// ConfirmExecution applies the row and the status together or not at all.
func (s *memoryStore) ConfirmExecution(_ context.Context, result *model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[model.StatusConfirmed]; err != nil {
		return err
	}
	if s.hasAttempt(result.OrderID, result.Attempt) {
		return errDuplicateAttempt
	}
	o, ok := s.orders[result.OrderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	s.executions = append(s.executions, *result)
	s.reasons = append(s.reasons, "")
	o.Status = model.StatusConfirmed
	s.statuses = append(s.statuses, model.StatusConfirmed)
	return nil
}

var errDuplicateAttempt = errors.New("duplicated key not allowed")

func (s *memoryStore) hasAttempt(orderID string, attempt int) bool {
	for _, e := range s.executions {
		if e.OrderID == orderID && e.Attempt == attempt {
			return true
		}
	}
	return false
}

type stubRouter struct {
	routing    venue.Routing
	routeErr   error
	execution  venue.Execution
	executeErr error
	executed   []model.Venue
}

func (r *stubRouter) BestQuote(ctx context.Context, _, _ string, _ float64) (venue.Routing, error) {
	if err := ctx.Err(); err != nil {
		return venue.Routing{}, err
	}
	return r.routing, r.routeErr
}

func (r *stubRouter) Execute(_ context.Context, v model.Venue, _, _ string, _, _ float64) (venue.Execution, error) {
	r.executed = append(r.executed, v)
	if r.executeErr != nil {
		return venue.Execution{}, r.executeErr
	}
	return r.execution, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []model.StatusUpdate
}

func (p *recordingPublisher) Publish(_ string, update model.StatusUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
}

func (p *recordingPublisher) statuses() []model.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.OrderStatus, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.Status)
	}
	return out
}

func (p *recordingPublisher) last() model.StatusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

func newStubRouter() *stubRouter {
	best := model.Quote{Venue: model.VenueMeteora, Price: 1.01, Fee: 0.002, EffectivePrice: 1.00798, EstimatedOutput: 1.00798}
	other := model.Quote{Venue: model.VenueRaydium, Price: 0.99, Fee: 0.003, EffectivePrice: 0.98703, EstimatedOutput: 0.98703}
	return &stubRouter{
		routing:   venue.Routing{Best: best, Quotes: []model.Quote{other, best}},
		execution: venue.Execution{TxHash: "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi", ExecutedPrice: 0.998, AmountOut: 0.998},
	}
}

func newTestExecutor(store Store, router Router, pub Publisher) *Executor {
	log, _ := logrustest.NewNullLogger()
	e := NewExecutor(Config{}, logrus.NewEntry(log), store, router, pub)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func scenarioJob() Job {
	slippage := 0.5
	return NewJob("order-1", model.CreateOrderRequest{
		UserID:    "u1",
		OrderType: model.OrderTypeMarket,
		TokenIn:   "SOL",
		TokenOut:  "USDC",
		AmountIn:  1,
		Slippage:  &slippage,
	}, time.Now())
}

var canonical = []model.OrderStatus{
	model.StatusPending,
	model.StatusRouting,
	model.StatusBuilding,
	model.StatusSubmitted,
}

func TestRunSucceeds(t *testing.T) {
	store := newMemoryStore()
	router := newStubRouter()
	pub := &recordingPublisher{}

	res := newTestExecutor(store, router, pub).Run(context.Background(), scenarioJob())
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	assert.Equal(t, append(canonical, model.StatusConfirmed), pub.statuses())
	final := pub.last()
	require.NotNil(t, final.Data)
	assert.NotEmpty(t, final.Data.TxHash)
	assert.Greater(t, final.Data.AmountOut, 0.0)
	assert.Equal(t, model.VenueMeteora, final.Data.DexUsed)
	assert.Equal(t, "Order executed successfully", final.Message)
	assert.Contains(t, pub.updates[1].Message, "METEORA")
	assert.Contains(t, pub.updates[2].Message, "Building transaction for METEORA")

	assert.Equal(t, []model.OrderStatus{model.StatusRouting, model.StatusBuilding, model.StatusSubmitted, model.StatusConfirmed}, store.statuses)
	require.Len(t, store.executions, 1)
	assert.True(t, store.executions[0].Succeeded())
	assert.Equal(t, 1, store.executions[0].Attempt)
	assert.Equal(t, []model.Venue{model.VenueMeteora}, router.executed)
	assert.Equal(t, model.StatusConfirmed, store.orders["order-1"].Status)
}

func TestRunVenueFailureIsRetryable(t *testing.T) {
	store := newMemoryStore()
	router := newStubRouter()
	router.executeErr = &model.VenueExecutionError{Venue: model.VenueMeteora, Reason: "Insufficient liquidity"}
	pub := &recordingPublisher{}

	res := newTestExecutor(store, router, pub).Run(context.Background(), scenarioJob())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	require.Error(t, res.Err)

	assert.Equal(t, append(canonical, model.StatusFailed), pub.statuses())
	final := pub.last()
	assert.Equal(t, "Order execution failed", final.Message)
	assert.Contains(t, final.Error, "Insufficient liquidity")
	assert.Nil(t, final.Data)

	require.Len(t, store.executions, 1)
	failed := store.executions[0]
	assert.Nil(t, failed.TxHash)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, "Insufficient liquidity")
	require.NotNil(t, failed.DexUsed)
	assert.Equal(t, model.VenueMeteora, *failed.DexUsed)
	assert.Equal(t, model.StatusFailed, store.orders["order-1"].Status)
}

func TestRunRetryReusesStoredOrder(t *testing.T) {
	store := newMemoryStore()
	job := scenarioJob()
	store.orders[job.OrderID] = job.Order(time.Now())
	store.orders[job.OrderID].Status = model.StatusFailed

	job.Attempt = 2
	pub := &recordingPublisher{}
	res := newTestExecutor(store, newStubRouter(), pub).Run(context.Background(), job)
	require.Equal(t, OutcomeSucceeded, res.Outcome)

	assert.Equal(t, model.StatusPending, store.statuses[0], "a retry resets the stored status")
	assert.Len(t, store.orders, 1)
	require.Len(t, store.executions, 1)
	assert.Equal(t, 2, store.executions[0].Attempt)
}

func TestRunPersistenceFailureIsRetryable(t *testing.T) {
	store := newMemoryStore()
	store.updateErr[model.StatusBuilding] = errors.New("connection refused")
	pub := &recordingPublisher{}

	res := newTestExecutor(store, newStubRouter(), pub).Run(context.Background(), scenarioJob())
	assert.Equal(t, OutcomeRetryable, res.Outcome)

	var perr *model.PersistenceError
	require.ErrorAs(t, res.Err, &perr)
	assert.True(t, model.IsRetryable(res.Err))
	assert.Equal(t, []model.OrderStatus{model.StatusPending, model.StatusRouting, model.StatusFailed}, pub.statuses())
}

func TestRunConfirmFailureLeavesOnlyFailedRow(t *testing.T) {
	store := newMemoryStore()
	store.updateErr[model.StatusConfirmed] = errors.New("connection reset")
	router := newStubRouter()
	pub := &recordingPublisher{}

	res := newTestExecutor(store, router, pub).Run(context.Background(), scenarioJob())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	var perr *model.PersistenceError
	require.ErrorAs(t, res.Err, &perr)

	require.Len(t, store.executions, 1, "the fill is not stored without its confirmed status")
	row := store.executions[0]
	assert.False(t, row.Succeeded())
	assert.Nil(t, row.TxHash)
	require.NotNil(t, row.FailureReason)
	assert.Contains(t, *row.FailureReason, "connection reset")
	require.NotNil(t, res.Execution)
	assert.Equal(t, 1, res.Execution.Attempt)

	assert.Equal(t, model.StatusFailed, store.orders["order-1"].Status)
	assert.Equal(t, append(canonical, model.StatusFailed), pub.statuses())
}

func TestRunRoutingFailure(t *testing.T) {
	store := newMemoryStore()
	router := newStubRouter()
	router.routeErr = errors.New("quote RAYDIUM: timeout")
	pub := &recordingPublisher{}

	res := newTestExecutor(store, router, pub).Run(context.Background(), scenarioJob())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.Equal(t, []model.OrderStatus{model.StatusPending, model.StatusFailed}, pub.statuses())
	require.Len(t, store.executions, 1)
	assert.Nil(t, store.executions[0].DexUsed, "no venue was chosen yet")
	assert.Empty(t, router.executed)
}

func TestRunInvalidJobIsFatal(t *testing.T) {
	store := newMemoryStore()
	pub := &recordingPublisher{}
	job := scenarioJob()
	job.AmountIn = -1

	res := newTestExecutor(store, newStubRouter(), pub).Run(context.Background(), job)
	assert.Equal(t, OutcomeFatal, res.Outcome)

	var verr *model.ValidationError
	require.ErrorAs(t, res.Err, &verr)
	assert.Equal(t, []model.OrderStatus{model.StatusFailed}, pub.statuses())
	assert.Empty(t, store.orders)
	assert.Empty(t, store.executions)
}

func TestRunCancelledStillRecordsFailure(t *testing.T) {
	store := newMemoryStore()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestExecutor(store, newStubRouter(), pub).Run(ctx, scenarioJob())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []model.OrderStatus{model.StatusPending, model.StatusFailed}, pub.statuses())
	require.Len(t, store.executions, 1)
}

func TestRunAgainstSimulatorAndDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.ExecutionResult{}))

	repo := (&repository.OrderRepository{}).WithDB(db)
	log, _ := logrustest.NewNullLogger()
	sim := venue.NewSimulatorWithSource(venue.Config{NativeSymbol: "SOL"}, logrus.NewEntry(log), rand.NewPCG(1, 2))
	pub := &recordingPublisher{}
	exec := NewExecutor(Config{}, logrus.NewEntry(log), repo, sim, pub)

	res := exec.Run(context.Background(), scenarioJob())
	require.NoError(t, res.Err)
	assert.Equal(t, append(canonical, model.StatusConfirmed), pub.statuses())

	order, err := repo.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, model.StatusConfirmed, order.Status)
	assert.InDelta(t, 0.5, order.Slippage, 1e-9)
	require.Len(t, order.Executions, 1)
	assert.True(t, order.Executions[0].Succeeded())
	assert.Greater(t, *order.Executions[0].AmountOut, 0.0)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "retryable", OutcomeRetryable.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
}
