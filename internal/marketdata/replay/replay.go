// Package replay reads cached candles and emits them as price ticks at a
// configurable speed for backtesting.
package replay

import (
	"context"
	"slices"
	"time"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxGap caps the scaled wait between two emitted ticks.
const maxGap = 5 * time.Second

// Replayer turns cached candles into one tick per candle, stamped with the
// candle open time and priced at its close.
type Replayer struct {
	reader model.CandleReader
	log    *zap.Logger
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{reader: reader, log: log}
}

// Run replays candles of the given timeframe opened after fromMs into out
// and returns the number emitted. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible. out is not closed.
func (r *Replayer) Run(ctx context.Context, minutes int, fromMs int64, speed float64, out chan<- model.PriceTick) (int, error) {
	candles, err := r.reader.ReadCandles(ctx, minutes, fromMs)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		r.log.Info("no cached candles to replay", zap.Int("timeframe", minutes))
		return 0, nil
	}

	slices.SortStableFunc(candles, func(a, b model.Candle) int {
		switch {
		case a.OpenTime < b.OpenTime:
			return -1
		case a.OpenTime > b.OpenTime:
			return 1
		}
		return 0
	})

	r.log.Info("replaying candles",
		zap.Int("count", len(candles)), zap.Int("timeframe", minutes), zap.Float64("speed", speed))

	var prevTS int64
	emitted := 0
	for i, c := range candles {
		if speed > 0 && i > 0 {
			gap := time.Duration(c.OpenTime-prevTS) * time.Millisecond
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.OpenTime

		tick := model.PriceTick{Timestamp: c.OpenTime, Price: decimal.NewFromFloat(c.Close)}
		if !tick.Price.IsPositive() {
			continue
		}
		select {
		case <-ctx.Done():
			r.log.Info("replay cancelled", zap.Int("emitted", emitted))
			return emitted, ctx.Err()
		case out <- tick:
		}
		emitted++
	}

	r.log.Info("replay completed", zap.Int("emitted", emitted))
	return emitted, nil
}
