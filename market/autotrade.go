package market

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"buzzwatch/analysis"
	"buzzwatch/db"
	"buzzwatch/telemetry"
)

// Engine evaluates buzzword counts against the event's open markets and buys
// Yes where the threshold is met and the market has not priced it in yet.
// With DryRun set (the default posture) orders are logged, never sent.
type Engine struct {
	Gamma         *GammaClient
	Clob          *ClobClient
	Placer        OrderPlacer
	Rules         []Rule
	EventSlug     string
	USDCPerMarket float64
	MaxYesPrice   float64
	DryRun        bool
	DB            *sql.DB
}

// Decision is the outcome of evaluating one market.
type Decision struct {
	MarketID  string
	Question  string
	Category  string
	Count     int
	Threshold int
	Mid       float64
	USDC      float64
	OrderID   string
	Status    string
	Placed    bool
}

// Enabled reports whether auto-trading is switched on at all.
func (e *Engine) Enabled() bool { return e.USDCPerMarket > 0 }

func (e *Engine) placer() OrderPlacer {
	if e.DryRun || e.Placer == nil {
		return DryRunPlacer{}
	}
	return e.Placer
}

// Evaluate walks the event's active markets and places a Yes buy on every one
// whose mapped buzzword count reached its threshold, unless the mid price
// already exceeds MaxYesPrice. Returns one Decision per market that matched a
// rule; markets without a rule or Yes side are skipped silently.
func (e *Engine) Evaluate(ctx context.Context, videoID string, counts analysis.Counts) ([]Decision, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("auto-trading disabled")
	}
	markets, err := e.Gamma.ActiveMarkets(ctx, e.EventSlug)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	rules := e.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	logger := slog.Default().With(slog.String("component", "autotrade"), slog.String("video_id", videoID))

	var out []Decision
	for i := range markets {
		m := &markets[i]
		rule, ok := Match(m.Question, rules)
		if !ok {
			continue
		}
		yesToken := m.YesTokenID()
		if yesToken == "" || len(m.Outcomes()) < 2 {
			continue
		}
		d := Decision{
			MarketID:  m.ID,
			Question:  m.Question,
			Category:  rule.Category,
			Count:     counts[rule.Category],
			Threshold: rule.Threshold,
			USDC:      e.USDCPerMarket,
		}
		if d.Count < d.Threshold {
			d.Status = "below_threshold"
			bumpCounter(telemetry.TradesSkipped)
			out = append(out, d)
			continue
		}
		mid, err := e.Clob.Midpoint(ctx, yesToken)
		if err != nil {
			logger.Warn("midpoint fetch failed", slog.String("market_id", m.ID), slog.Any("err", err))
			d.Status = "midpoint_error"
			bumpCounter(telemetry.TradesSkipped)
			out = append(out, d)
			continue
		}
		d.Mid = mid
		if mid >= e.MaxYesPrice {
			d.Status = "priced_in"
			bumpCounter(telemetry.TradesSkipped)
			out = append(out, d)
			e.audit(ctx, videoID, d)
			continue
		}
		orderID, err := e.placer().PlaceOrder(ctx, Order{TokenID: yesToken, USDC: e.USDCPerMarket})
		if err != nil {
			logger.Error("order placement failed", slog.String("market_id", m.ID), slog.Any("err", err))
			d.Status = "order_error"
			out = append(out, d)
			e.audit(ctx, videoID, d)
			continue
		}
		d.OrderID = orderID
		d.Placed = true
		if e.DryRun {
			d.Status = "dry_run"
		} else {
			d.Status = "executed"
		}
		bumpCounter(telemetry.TradesPlaced)
		logger.Info("auto-trade placed",
			slog.String("market_id", m.ID),
			slog.String("category", d.Category),
			slog.Int("count", d.Count),
			slog.Float64("mid", mid),
			slog.Bool("dry_run", e.DryRun))
		out = append(out, d)
		e.audit(ctx, videoID, d)
	}
	return out, nil
}

func (e *Engine) audit(ctx context.Context, videoID string, d Decision) {
	if e.DB == nil {
		return
	}
	if err := db.RecordTrade(ctx, e.DB, videoID, d.MarketID, d.Question, d.Category,
		d.Count, d.Threshold, d.Mid, d.USDC, e.DryRun, d.OrderID, d.Status); err != nil {
		slog.Warn("trade audit failed", slog.Any("err", err))
	}
}

func bumpCounter(c interface{ Inc() }) {
	if c != nil {
		c.Inc()
	}
}
