package ledger

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/papertrade/internal/models"
)

// RenderAllocationChart renders a PNG pie chart of the portfolio split
// between holdings (at current value) and cash.
func (s *Service) RenderAllocationChart(view *models.PortfolioView) ([]byte, error) {
	if view == nil {
		return nil, fmt.Errorf("%w: portfolio is required", models.ErrInvalidInput)
	}

	values := make([]chart.Value, 0, len(view.Holdings)+1)
	for _, h := range view.Holdings {
		if !h.CurrentValue.IsPositive() {
			continue
		}
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s $%s", h.Symbol, h.CurrentValue.StringFixed(2)),
			Value: h.CurrentValue.InexactFloat64(),
		})
	}
	if view.Cash.IsPositive() {
		values = append(values, chart.Value{
			Label: fmt.Sprintf("Cash $%s", view.Cash.StringFixed(2)),
			Value: view.Cash.InexactFloat64(),
			Style: chart.Style{FillColor: drawing.ColorFromHex("9ca3af")}, // gray-400
		})
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: portfolio has no value to chart", models.ErrInvalidInput)
	}

	pie := chart.PieChart{
		Title:  "Allocation",
		Width:  600,
		Height: 600,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		Values: values,
	}

	var buf bytes.Buffer
	if err := pie.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// cashPoint is the balance immediately after a trade.
type cashPoint struct {
	At   time.Time
	Cash decimal.Decimal
}

// cashSeries replays the trade log forward from the opening balance, which
// is recovered as current cash plus every trade total.
func cashSeries(user *models.User, trades []*models.Trade) []cashPoint {
	opening := user.Cash
	for _, t := range trades {
		opening = opening.Add(t.Total)
	}

	points := make([]cashPoint, 0, len(trades)+1)
	points = append(points, cashPoint{At: user.CreatedAt, Cash: opening})
	running := opening
	for _, t := range trades {
		running = running.Sub(t.Total)
		points = append(points, cashPoint{At: t.CreatedAt, Cash: running})
	}
	return points
}

// RenderCashChart renders a PNG line chart of the user's cash balance over
// their trade history.
func (s *Service) RenderCashChart(ctx context.Context, userID int64) ([]byte, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	points := cashSeries(user, trades)
	if len(points) < 2 {
		points = append(points, cashPoint{At: time.Now(), Cash: user.Cash})
	}

	xValues := make([]time.Time, len(points))
	yValues := make([]float64, len(points))
	for i, p := range points {
		xValues[i] = p.At
		yValues[i] = p.Cash.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  "Cash Balance",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("02 Jan 15:04")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name: "Cash",
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
					StrokeWidth: 2.5,
				},
				XValues: xValues,
				YValues: yValues,
			},
		},
	}

	// go-chart cannot scale a flat series
	if lo, hi := minMax(yValues); lo == hi {
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	if !xValues[len(xValues)-1].After(xValues[0]) {
		start := xValues[0]
		graph.XAxis.Range = &chart.ContinuousRange{
			Min: chart.TimeToFloat64(start.Add(-time.Minute)),
			Max: chart.TimeToFloat64(start.Add(time.Minute)),
		}
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

func minMax(vs []float64) (float64, float64) {
	lo, hi := vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
