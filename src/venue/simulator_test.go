package venue

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

	"orderengine/src/model"
)

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.slept {
		sum += d
	}
	return sum
}

func newTestSimulator(cfg Config, seed uint64) (*Simulator, *sleepRecorder) {
	log, _ := logrustest.NewNullLogger()
	sim := NewSimulatorWithSource(cfg, logrus.NewEntry(log), rand.NewPCG(seed, seed+1))
	rec := &sleepRecorder{}
	sim.sleep = rec.sleep
	return sim, rec
}

func TestQuoteEffectivePriceBelowRawPrice(t *testing.T) {
	sim, _ := newTestSimulator(Config{BasePrice: 1.0}, 42)

	for i := 0; i < 200; i++ {
		for _, v := range Venues() {
			q, err := sim.Quote(context.Background(), v, "SOL", "USDC", 100)
			require.NoError(t, err)

			fee, _ := FeeFor(v)
			assert.Equal(t, v, q.Venue)
			assert.Equal(t, fee, q.Fee)
			assert.Greater(t, q.Price, 0.0)
			assert.Less(t, q.EffectivePrice, q.Price, "fee must reduce the effective price")
			assert.InDelta(t, 100*q.EffectivePrice, q.EstimatedOutput, 1e-6)
		}
	}
}

func TestQuoteWithinVenueBand(t *testing.T) {
	sim, _ := newTestSimulator(Config{BasePrice: 1.0}, 7)

	for i := 0; i < 200; i++ {
		q, err := sim.Quote(context.Background(), model.VenueRaydium, "SOL", "USDC", 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.Price, 0.98)
		assert.LessOrEqual(t, q.Price, 1.02)
		assert.GreaterOrEqual(t, q.Liquidity, 1_000_000.0)

		q, err = sim.Quote(context.Background(), model.VenueMeteora, "SOL", "USDC", 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.Price, 0.97)
		assert.LessOrEqual(t, q.Price, 1.03)
		assert.GreaterOrEqual(t, q.Liquidity, 800_000.0)
	}
}

func TestQuoteUnknownVenue(t *testing.T) {
	sim, _ := newTestSimulator(Config{}, 1)
	_, err := sim.Quote(context.Background(), model.Venue("ORCA"), "SOL", "USDC", 1)
	require.Error(t, err)
}

func TestQuoteIncursConfiguredLatency(t *testing.T) {
	sim, rec := newTestSimulator(Config{QuoteDelay: 200 * time.Millisecond}, 3)
	_, err := sim.Quote(context.Background(), model.VenueRaydium, "SOL", "USDC", 1)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, rec.total(), "no jitter configured")
}

func TestBestQuoteReturnsOneOfTheQuotes(t *testing.T) {
	sim, _ := newTestSimulator(Config{BasePrice: 1.0}, 11)

	routing, err := sim.BestQuote(context.Background(), "SOL", "USDC", 100)
	require.NoError(t, err)
	require.Len(t, routing.Quotes, 2)
	assert.Contains(t, routing.Quotes, routing.Best)
	for _, q := range routing.Quotes {
		assert.GreaterOrEqual(t, routing.Best.EstimatedOutput, q.EstimatedOutput)
	}
}

func TestBestQuoteQuotesConcurrently(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	sim := NewSimulatorWithSource(Config{QuoteDelay: 100 * time.Millisecond}, logrus.NewEntry(log), rand.NewPCG(1, 2))

	start := time.Now()
	_, err := sim.BestQuote(context.Background(), "SOL", "USDC", 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 190*time.Millisecond, "both venues must be quoted in parallel")
}

func TestBestQuoteCancelled(t *testing.T) {
	sim, _ := newTestSimulator(Config{}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.BestQuote(ctx, "SOL", "USDC", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompareQuotes(t *testing.T) {
	raydium := model.Quote{Venue: model.VenueRaydium, Fee: 0.003, EstimatedOutput: 99.5}
	meteora := model.Quote{Venue: model.VenueMeteora, Fee: 0.002, EstimatedOutput: 99.1}

	t.Run("greater output wins in both orders", func(t *testing.T) {
		assert.Equal(t, raydium, CompareQuotes(raydium, meteora))
		assert.Equal(t, raydium, CompareQuotes(meteora, raydium))
	})

	t.Run("equal output prefers lower fee", func(t *testing.T) {
		tie := meteora
		tie.EstimatedOutput = raydium.EstimatedOutput
		assert.Equal(t, tie, CompareQuotes(raydium, tie))
		assert.Equal(t, tie, CompareQuotes(tie, raydium))
	})

	t.Run("equal output and fee prefers smaller venue name", func(t *testing.T) {
		a := model.Quote{Venue: model.VenueRaydium, Fee: 0.002, EstimatedOutput: 10}
		b := model.Quote{Venue: model.VenueMeteora, Fee: 0.002, EstimatedOutput: 10}
		assert.Equal(t, model.VenueMeteora, CompareQuotes(a, b).Venue)
		assert.Equal(t, model.VenueMeteora, CompareQuotes(b, a).Venue)
	})
}

func TestExecuteSuccess(t *testing.T) {
	sim, _ := newTestSimulator(Config{BasePrice: 1.0, NativeSymbol: "SOL"}, 9)

	exec, err := sim.Execute(context.Background(), model.VenueMeteora, "SOL", "USDC", 100, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(exec.TxHash), 80)
	assert.Greater(t, exec.ExecutedPrice, 0.0)
	assert.GreaterOrEqual(t, exec.ExecutedPrice, 0.99, "penalty is bounded by the slippage tolerance")
	assert.LessOrEqual(t, exec.ExecutedPrice, 1.0)
	assert.InDelta(t, 100*exec.ExecutedPrice, exec.AmountOut, 1e-6)
}

func TestExecuteAlwaysFails(t *testing.T) {
	sim, _ := newTestSimulator(Config{FailureRate: 1}, 9)

	_, err := sim.Execute(context.Background(), model.VenueRaydium, "USDC", "BONK", 10, 1)
	var venueErr *model.VenueExecutionError
	require.True(t, errors.As(err, &venueErr))
	assert.Equal(t, model.VenueRaydium, venueErr.Venue)
	assert.True(t, model.IsRetryable(err))
}

func TestExecuteLatencyAndWrapDelay(t *testing.T) {
	cfg := Config{
		ExecutionDelay:  2 * time.Second,
		ExecutionJitter: time.Second,
		NativeSymbol:    "SOL",
		WrapDelay:       200 * time.Millisecond,
	}

	t.Run("native token adds wrap delay", func(t *testing.T) {
		for _, pair := range [][2]string{{"SOL", "USDC"}, {"USDC", "SOL"}} {
			sim, rec := newTestSimulator(cfg, 21)
			_, err := sim.Execute(context.Background(), model.VenueRaydium, pair[0], pair[1], 1, 1)
			require.NoError(t, err)
			require.Len(t, rec.slept, 2)
			assert.GreaterOrEqual(t, rec.slept[0], cfg.ExecutionDelay)
			assert.Less(t, rec.slept[0], cfg.ExecutionDelay+cfg.ExecutionJitter)
			assert.Equal(t, cfg.WrapDelay, rec.slept[1])
		}
	})

	t.Run("non-native pair has no wrap delay", func(t *testing.T) {
		sim, rec := newTestSimulator(cfg, 21)
		_, err := sim.Execute(context.Background(), model.VenueRaydium, "USDC", "BONK", 1, 1)
		require.NoError(t, err)
		require.Len(t, rec.slept, 1)
		assert.GreaterOrEqual(t, rec.slept[0], cfg.ExecutionDelay)
	})
}

func TestExecuteMeasuredLatency(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	cfg := Config{ExecutionDelay: 30 * time.Millisecond, NativeSymbol: "SOL", WrapDelay: 20 * time.Millisecond}
	sim := NewSimulatorWithSource(cfg, logrus.NewEntry(log), rand.NewPCG(4, 4))

	exec, err := sim.Execute(context.Background(), model.VenueMeteora, "SOL", "USDC", 1, 0.5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exec.Latency, 50*time.Millisecond)
}

func TestEncodeBase58(t *testing.T) {
	assert.Equal(t, "", encodeBase58(nil))
	assert.Equal(t, "1", encodeBase58([]byte{0}))
	assert.Equal(t, "2g", encodeBase58([]byte("a")))
	assert.Equal(t, "StV1DL6CwTryKyV", encodeBase58([]byte("hello world")))
}
