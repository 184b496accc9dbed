package demo

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"orderengine/src/model"
)

type engine interface {
	SubmitOrder(ctx context.Context, req model.CreateOrderRequest) (*model.CreateOrderResponse, error)
	Stream(ctx context.Context, orderID string, fn func(model.StatusUpdate)) (model.StatusUpdate, error)
}

// Summary aggregates the terminal updates of a demo run.
type Summary struct {
	Submitted int
	Confirmed int
	Failed    int
	TotalIn   decimal.Decimal
	TotalOut  decimal.Decimal
	ByVenue   map[model.Venue]int
	Errors    []string
}

// Demo submits a burst of orders to a running engine and follows each one to
// its terminal status.
type Demo struct {
	Log    *logger.Entry
	Client engine
	Config *Config
}

func (d *Demo) Start(ctx context.Context) (*Summary, error) {
	if d.Config == nil {
		d.Config = GetConfig()
	}
	if d.Log == nil {
		d.Log = logger.WithField("cmd", "demo")
	}

	ctx, cancel := context.WithTimeout(ctx, d.Config.Timeout)
	defer cancel()

	req := model.CreateOrderRequest{
		UserID:    d.Config.UserID,
		OrderType: model.OrderType(strings.ToUpper(d.Config.OrderType)),
		TokenIn:   d.Config.TokenIn,
		TokenOut:  d.Config.TokenOut,
		AmountIn:  d.Config.AmountIn,
		Slippage:  &d.Config.Slippage,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	summary := &Summary{ByVenue: make(map[model.Venue]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.Config.Orders; i++ {
		g.Go(func() error {
			resp, err := d.Client.SubmitOrder(gctx, req)
			if err != nil {
				return fmt.Errorf("submit order %d: %w", i+1, err)
			}
			log := d.Log.WithField("order_id", resp.OrderID)
			log.Info("order submitted")

			final, err := d.Client.Stream(gctx, resp.OrderID, func(u model.StatusUpdate) {
				log.WithField("status", u.Status).Info(u.Message)
			})
			if err != nil {
				return fmt.Errorf("stream order %s: %w", resp.OrderID, err)
			}

			mu.Lock()
			defer mu.Unlock()
			summary.record(req.AmountIn, final)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Summary) record(amountIn float64, final model.StatusUpdate) {
	s.Submitted++
	if final.Status != model.StatusConfirmed {
		s.Failed++
		if final.Error != "" {
			s.Errors = append(s.Errors, final.Error)
		}
		return
	}

	s.Confirmed++
	s.TotalIn = s.TotalIn.Add(decimal.NewFromFloat(amountIn))
	if final.Data != nil {
		s.TotalOut = s.TotalOut.Add(decimal.NewFromFloat(final.Data.AmountOut))
		s.ByVenue[final.Data.DexUsed]++
	}
}

// AveragePrice is TotalOut / TotalIn over confirmed orders, zero when nothing confirmed.
func (s *Summary) AveragePrice() decimal.Decimal {
	if s.TotalIn.IsZero() {
		return decimal.Zero
	}
	return s.TotalOut.DivRound(s.TotalIn, 8)
}

// Print writes a human readable report of s to w.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "orders: %d submitted, %d confirmed, %d failed\n", s.Submitted, s.Confirmed, s.Failed)
	fmt.Fprintf(w, "volume: %s in, %s out, average price %s\n",
		s.TotalIn.StringFixed(8), s.TotalOut.StringFixed(8), s.AveragePrice().StringFixed(8))

	venues := make([]string, 0, len(s.ByVenue))
	for v := range s.ByVenue {
		venues = append(venues, string(v))
	}
	sort.Strings(venues)
	for _, v := range venues {
		fmt.Fprintf(w, "  %-10s %d\n", v, s.ByVenue[model.Venue(v)])
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
