package chain

import (
	"context"
	"fmt"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

const (
	DefaultBurst     uint64 = 100
	DefaultMaxBursts        = 1000
)

// Clock is the pair of clock primitives the advancer needs. Both the sim
// clock and remote ledgers provide it.
type Clock interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
	AdvanceBlocks(ctx context.Context, n uint64) error
}

type Advancer struct {
	clock     Clock
	burst     uint64
	maxBursts int
	logger    *logger.Logger
}

func NewAdvancer(clock Clock, burst uint64, maxBursts int, log *logger.Logger) *Advancer {
	if burst == 0 {
		burst = DefaultBurst
	}
	if maxBursts <= 0 {
		maxBursts = DefaultMaxBursts
	}
	return &Advancer{
		clock:     clock,
		burst:     burst,
		maxBursts: maxBursts,
		logger:    log,
	}
}

// AdvanceEpoch fast-forwards in bursts until the epoch differs from the one
// observed on entry and returns the number of blocks consumed. It fails with
// ErrClockStalled once maxBursts bursts pass without an epoch change.
func (a *Advancer) AdvanceEpoch(ctx context.Context) (uint64, error) {
	start, err := a.clock.CurrentEpoch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read epoch: %w", err)
	}

	var skipped uint64
	for i := 0; i < a.maxBursts; i++ {
		select {
		case <-ctx.Done():
			return skipped, ctx.Err()
		default:
		}

		if err := a.clock.AdvanceBlocks(ctx, a.burst); err != nil {
			return skipped, fmt.Errorf("failed to advance %d blocks: %w", a.burst, err)
		}
		skipped += a.burst
		metrics.RecordBlocksAdvanced(a.burst)

		epoch, err := a.clock.CurrentEpoch(ctx)
		if err != nil {
			return skipped, fmt.Errorf("failed to read epoch: %w", err)
		}
		if epoch != start {
			metrics.EpochAdvances.Inc()
			metrics.UpdateCurrentEpoch(epoch)
			a.logger.Debugw("Fast-forwarded epoch", "from", start, "to", epoch, "blocks", skipped)
			return skipped, nil
		}
	}

	metrics.ClockStalls.Inc()
	a.logger.Errorw("Clock stalled", "epoch", start, "blocks", skipped, "bursts", a.maxBursts)
	return skipped, fmt.Errorf("%w: epoch %d unchanged after %d blocks", domain.ErrClockStalled, start, skipped)
}

// AdvanceEpochs calls AdvanceEpoch n times in sequence.
func (a *Advancer) AdvanceEpochs(ctx context.Context, n int) (uint64, error) {
	a.logger.Infow("Fast-forwarding epochs", "count", n)

	var total uint64
	for i := 0; i < n; i++ {
		blocks, err := a.AdvanceEpoch(ctx)
		total += blocks
		if err != nil {
			return total, fmt.Errorf("epoch %d of %d: %w", i+1, n, err)
		}
	}

	a.logger.Infow("Fast-forwarded blocks", "blocks", total, "epochs", n)
	return total, nil
}
