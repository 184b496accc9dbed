package venue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"orderengine/src/model"
	"orderengine/src/utils"
)

// Routing is the outcome of a routing decision: every quote received and the one selected.
type Routing struct {
	Best   model.Quote
	Quotes []model.Quote
}

// Execution is a filled swap on a venue.
type Execution struct {
	TxHash        string
	ExecutedPrice float64
	AmountOut     float64
	Latency       time.Duration
}

// Simulator stands in for the venue quoting and execution subsystem.
// It is safe for concurrent use; the random source is the only shared state.
type Simulator struct {
	cfg    Config
	logger *logrus.Entry

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSimulator builds a simulator seeded from the wall clock.
func NewSimulator(cfg Config, logger *logrus.Entry) *Simulator {
	seed := uint64(time.Now().UnixNano())
	return NewSimulatorWithSource(cfg, logger, rand.NewPCG(seed, seed>>1|1))
}

// NewSimulatorWithSource builds a simulator drawing from src. Useful for reproducible runs.
func NewSimulatorWithSource(cfg Config, logger *logrus.Entry, src rand.Source) *Simulator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 1.0
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger.WithField("component", "venue"),
		rng:    rand.New(src),
		sleep:  utils.Sleep,
	}
}

// Quote fetches a synthetic quote from venue.
func (s *Simulator) Quote(ctx context.Context, venue model.Venue, tokenIn, tokenOut string, amountIn float64) (model.Quote, error) {
	p, ok := profiles[venue]
	if !ok {
		return model.Quote{}, fmt.Errorf("unknown venue %q", venue)
	}

	if err := s.sleep(ctx, s.cfg.QuoteDelay+s.jitter(s.cfg.QuoteJitter)); err != nil {
		return model.Quote{}, err
	}

	multiplier := p.minMultiplier + s.float()*(p.maxMultiplier-p.minMultiplier)
	liquidity := p.minLiquidity + s.float()*p.liquiditySpan

	price := decimal.NewFromFloat(s.cfg.BasePrice * multiplier).Round(8)
	fee := decimal.NewFromFloat(p.fee)
	effective := price.Mul(decimal.NewFromInt(1).Sub(fee)).Round(8)
	estimated := decimal.NewFromFloat(amountIn).Mul(effective).Round(8)

	return model.Quote{
		Venue:           venue,
		Price:           price.InexactFloat64(),
		Fee:             p.fee,
		Liquidity:       decimal.NewFromFloat(liquidity).Round(2).InexactFloat64(),
		EffectivePrice:  effective.InexactFloat64(),
		EstimatedOutput: estimated.InexactFloat64(),
	}, nil
}

// BestQuote asks every venue for a quote concurrently and selects the best one.
// It returns only after all quotes arrived, or with the first error.
func (s *Simulator) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Routing, error) {
	venues := Venues()
	quotes := make([]model.Quote, len(venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range venues {
		g.Go(func() error {
			q, err := s.Quote(gctx, v, tokenIn, tokenOut, amountIn)
			if err != nil {
				return fmt.Errorf("quote %s: %w", v, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Routing{}, err
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		best = CompareQuotes(best, q)
	}
	return Routing{Best: best, Quotes: quotes}, nil
}

// Execute simulates a swap on venue. It fails with a *model.VenueExecutionError
// with probability FailureRate; otherwise the executed price carries a random
// slippage penalty bounded by slippage (percent).
func (s *Simulator) Execute(ctx context.Context, venue model.Venue, tokenIn, tokenOut string, amountIn, slippage float64) (Execution, error) {
	if _, ok := profiles[venue]; !ok {
		return Execution{}, fmt.Errorf("unknown venue %q", venue)
	}
	start := time.Now()

	if err := s.sleep(ctx, s.cfg.ExecutionDelay+s.jitter(s.cfg.ExecutionJitter)); err != nil {
		return Execution{}, err
	}

	if s.float() < s.cfg.FailureRate {
		return Execution{}, &model.VenueExecutionError{Venue: venue, Reason: "Insufficient liquidity"}
	}

	penalty := decimal.NewFromFloat(slippage / 100 * s.float())
	executed := decimal.NewFromFloat(s.cfg.BasePrice).Mul(decimal.NewFromInt(1).Sub(penalty)).Round(8)
	amountOut := decimal.NewFromFloat(amountIn).Mul(executed).Round(8)
	txHash := s.txHash(venue, tokenIn, tokenOut, amountIn)

	if s.IsNative(tokenIn) || s.IsNative(tokenOut) {
		s.logger.WithField("venue", venue).Debugf("wrapping/unwrapping %s for swap execution", s.cfg.NativeSymbol)
		if err := s.sleep(ctx, s.cfg.WrapDelay); err != nil {
			return Execution{}, err
		}
	}

	return Execution{
		TxHash:        txHash,
		ExecutedPrice: executed.InexactFloat64(),
		AmountOut:     amountOut.InexactFloat64(),
		Latency:       time.Since(start),
	}, nil
}

// IsNative reports whether symbol is the network's native asset.
func (s *Simulator) IsNative(symbol string) bool {
	return s.cfg.NativeSymbol != "" && symbol == s.cfg.NativeSymbol
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Int64N(int64(max)))
}
