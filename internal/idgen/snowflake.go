// Package idgen issues 64-bit time-ordered message ids for stores without an
// auto-increment column.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	timestampBits = 41
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID = (1 << machineIDBits) - 1 // 1023
	maxSequence  = (1 << sequenceBits) - 1  // 4095

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// DefaultEpoch is 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch int64 = 1704067200000

// Generator issues message ids.
type Generator interface {
	NextID() (int64, error)
}

// Snowflake packs a millisecond timestamp, a worker id and a per-millisecond
// sequence into a positive int64.
type Snowflake struct {
	mu        sync.Mutex
	epoch     int64
	machineID int64
	sequence  int64
	lastTime  int64
	now       func() int64
}

// NewSnowflake creates a generator. machineID must be in [0, 1023].
func NewSnowflake(machineID int64, epoch int64) (*Snowflake, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	if epoch <= 0 {
		epoch = DefaultEpoch
	}
	return &Snowflake{
		epoch:     epoch,
		machineID: machineID,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next id.
func (g *Snowflake) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.epoch {
		return 0, fmt.Errorf("current time is before custom epoch")
	}
	if now < g.lastTime {
		return 0, fmt.Errorf("clock moved backwards: current=%d, last=%d", now, g.lastTime)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// sequence exhausted; spin to the next millisecond
			for now <= g.lastTime {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	return ((now - g.epoch) << timestampShift) | (g.machineID << machineIDShift) | g.sequence, nil
}

// Decompose splits an id into its absolute timestamp, machine id and sequence.
func (g *Snowflake) Decompose(id int64) (time.Time, int64, int64) {
	ts := (id >> timestampShift) & ((1 << timestampBits) - 1)
	return time.UnixMilli(ts + g.epoch).UTC(), (id >> machineIDShift) & maxMachineID, id & maxSequence
}
