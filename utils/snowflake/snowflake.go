// Package snowflake generates the numeric media file identifiers.
//
// Layout (63 bits): 41 bits of milliseconds since Epoch, 10 bits of node ID,
// 12 bits of per-millisecond sequence. IDs from one generator are strictly
// increasing; IDs from generators with distinct node IDs never collide.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is 2025-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1735689600000

	nodeBits     = 10
	sequenceBits = 12

	MaxNodeID    = -1 ^ (-1 << nodeBits)
	sequenceMask = -1 ^ (-1 << sequenceBits)
	nodeShift    = sequenceBits
	timeShift    = sequenceBits + nodeBits

	// maxBackwardDrift is how far the wall clock may step back before NextID
	// gives up instead of waiting it out.
	maxBackwardDrift = 5 * time.Millisecond
)

var (
	ErrInvalidNodeID       = errors.New("snowflake: node ID out of range")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastMS   int64
	now      func() time.Time
}

func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID, now: time.Now}, nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// NextID returns the next identifier. Small backward clock steps are waited
// out; larger ones return ErrClockMovedBackwards.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.millis()
	if ms < g.lastMS {
		if time.Duration(g.lastMS-ms)*time.Millisecond > maxBackwardDrift {
			return 0, ErrClockMovedBackwards
		}
		ms = g.waitUntil(g.lastMS)
	}

	if ms == g.lastMS {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ms = g.waitUntil(g.lastMS + 1)
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	return (ms-Epoch)<<timeShift | g.nodeID<<nodeShift | g.sequence, nil
}

func (g *Generator) waitUntil(target int64) int64 {
	ms := g.millis()
	for ms < target {
		time.Sleep(100 * time.Microsecond)
		ms = g.millis()
	}
	return ms
}

// Decompose splits an ID into its creation time, node ID and sequence.
func Decompose(id int64) (created time.Time, nodeID, sequence int64) {
	created = time.UnixMilli((id >> timeShift) + Epoch)
	nodeID = (id >> nodeShift) & MaxNodeID
	sequence = id & sequenceMask
	return
}
