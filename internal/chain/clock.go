package chain

import (
	"context"
	"sync"
	"time"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
)

// SimClock is a deterministic block clock. Epoch lengths vary between
// epochLength and epochLength+jitter blocks so callers cannot rely on a fixed
// number of blocks per epoch.
type SimClock struct {
	mu          sync.RWMutex
	genesis     uint64
	blockTime   uint64
	epochLength uint64
	jitter      uint64
	height      uint64
	epoch       uint64
	epochStart  uint64
}

func NewSimClock(genesis time.Time, blockTime time.Duration, epochLength, jitter uint64) *SimClock {
	if epochLength == 0 {
		epochLength = 1
	}
	return &SimClock{
		genesis:     uint64(genesis.UnixNano()),
		blockTime:   uint64(blockTime.Nanoseconds()),
		epochLength: epochLength,
		jitter:      jitter,
	}
}

func (c *SimClock) lengthOf(epoch uint64) uint64 {
	if c.jitter == 0 {
		return c.epochLength
	}
	// Knuth multiplicative hash spreads lengths over [base, base+jitter].
	return c.epochLength + (epoch*2654435761)%(c.jitter+1)
}

// Advance moves the clock forward by n blocks. Time never moves backwards.
func (c *SimClock) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height += n
	for c.height >= c.epochStart+c.lengthOf(c.epoch) {
		c.epochStart += c.lengthOf(c.epoch)
		c.epoch++
	}
}

func (c *SimClock) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *SimClock) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Now is the timestamp of the current block in nanoseconds.
func (c *SimClock) Now() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.genesis + c.height*c.blockTime
}

func (c *SimClock) BlockInfo() domain.BlockInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.BlockInfo{
		Height:    c.height,
		Epoch:     c.epoch,
		Timestamp: domain.Timestamp(c.genesis + c.height*c.blockTime),
	}
}

func (c *SimClock) CurrentEpoch(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Epoch(), nil
}

func (c *SimClock) AdvanceBlocks(ctx context.Context, n uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(n)
	return nil
}
