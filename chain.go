// chain.go: per-sector chain metadata, kept parallel to the sector pool
//
// SPDX-License-Identifier: MPL-2.0

package engine

import "sync"

// SectorKind distinguishes a sector's record format.
type SectorKind uint8

const (
	KindTSD SectorKind = iota
	KindEVT
)

func (k SectorKind) String() string {
	if k == KindEVT {
		return "EVT"
	}
	return "TSD"
}

// chainFlags are the independent boolean flags spec.md §3 attaches to a
// chain entry: in_use, pending_ack, spooled.
type chainFlags uint8

const (
	flagInUse chainFlags = 1 << iota
	flagPendingAck
	flagSpooled
)

// chainEntry is one side-table row per sector. It never lives inside the
// sector's own byte buffer — that would cost payload efficiency the
// format can't spare (spec.md §9, "embedded next-pointers").
type chainEntry struct {
	next      SectorID
	owner     SensorID
	kind      SectorKind
	createdMs int64
	flags     chainFlags
}

// ChainTable is the side table threading per-sensor chains through the
// sector pool. One instance is shared by every sensor; chain_lock (one
// global mutex) guards all of it, acquired after sensor.lock and before
// pool_lock per spec.md §5.
type ChainTable struct {
	mu      sync.Mutex
	entries []chainEntry
}

// NewChainTable constructs an empty side table sized to the pool.
func NewChainTable(size int) *ChainTable {
	entries := make([]chainEntry, size)
	for i := range entries {
		entries[i].next = NilSector
	}
	return &ChainTable{entries: entries}
}

// initEntry populates a freshly-allocated sector's chain row, taking
// chain_lock itself. The write path does not call it: growOrSpill
// allocates through allocateWithPool, which fills the row in the same
// chain_lock section as the pool pop.
func (c *ChainTable) initEntry(id SectorID, owner SensorID, kind SectorKind, nowMs int64) {
	c.mu.Lock()
	c.entries[id] = chainEntry{
		next:      NilSector,
		owner:     owner,
		kind:      kind,
		createdMs: nowMs,
		flags:     flagInUse,
	}
	c.mu.Unlock()
}

// clearEntry resets a sector's chain row to its unallocated zero state.
// It does not return the sector to the pool; freeWithPool, which the ack
// and shutdown paths use, clears the row and pushes the sector back.
func (c *ChainTable) clearEntry(id SectorID) {
	c.mu.Lock()
	c.entries[id] = chainEntry{next: NilSector}
	c.mu.Unlock()
}

func (c *ChainTable) Next(id SectorID) SectorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].next
}

// SetNext links s -> t. Callers must guarantee owner(s) == owner(t); the
// Engine only ever calls this from within a single sensor's write/ack
// path, which already holds that sensor's lock.
func (c *ChainTable) SetNext(s, t SectorID) {
	c.mu.Lock()
	c.entries[s].next = t
	c.mu.Unlock()
}

func (c *ChainTable) Owner(id SectorID) SensorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].owner
}

func (c *ChainTable) Kind(id SectorID) SectorKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].kind
}

func (c *ChainTable) CreatedMs(id SectorID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].createdMs
}

func (c *ChainTable) InUse(id SectorID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].flags&flagInUse != 0
}

func (c *ChainTable) flagGet(id SectorID, f chainFlags) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].flags&f != 0
}

func (c *ChainTable) flagSet(id SectorID, f chainFlags, v bool) {
	c.mu.Lock()
	if v {
		c.entries[id].flags |= f
	} else {
		c.entries[id].flags &^= f
	}
	c.mu.Unlock()
}

// allocateWithPool acquires chain_lock, pops a free sector from the pool
// (acquiring and releasing pool_lock), and initializes its chain row —
// all while chain_lock is held, matching the sensor.lock → chain_lock →
// pool_lock order in spec.md §5. Callers must already hold the owning
// sensor's lock.
func (c *ChainTable) allocateWithPool(p *Pool, owner SensorID, kind SectorKind, nowMs int64) (SectorID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := p.popFree()
	if err != nil {
		return NilSector, err
	}
	c.entries[id] = chainEntry{
		next:      NilSector,
		owner:     owner,
		kind:      kind,
		createdMs: nowMs,
		flags:     flagInUse,
	}
	return id, nil
}

// freeWithPool clears a sector's chain row and returns it to the pool's
// free stack, in that order — the defensive order spec.md §5 mandates
// for ack_all_pending: update bookkeeping first, then free.
func (c *ChainTable) freeWithPool(p *Pool, id SectorID) {
	c.mu.Lock()
	wasInUse := c.entries[id].flags&flagInUse != 0
	c.entries[id] = chainEntry{next: NilSector}
	c.mu.Unlock()
	p.pushFree(id, !wasInUse)
}

// traverseResult is the outcome of walking a chain from head to tail.
type traverseResult struct {
	sectors []SectorID
}

// Traverse walks the chain starting at `start`, stopping at NilSector,
// and fails closed with ErrChainCorrupt if it would exceed maxHops (a
// cycle), finds an owner mismatch, or steps onto a freed sector —
// exactly the three corruption signatures spec.md §4.2 names.
func (c *ChainTable) Traverse(start SectorID, owner SensorID, maxHops int) ([]SectorID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []SectorID
	cur := start
	hops := 0
	for cur != NilSector {
		if hops > maxHops {
			return nil, wrapChainCorrupt("cycle detected: chain exceeds pool size hop count")
		}
		e := c.entries[cur]
		if e.flags&flagInUse == 0 {
			return nil, wrapChainCorrupt("traversal reached a freed sector")
		}
		if e.owner != owner {
			return nil, wrapChainCorrupt("traversal found an owner mismatch")
		}
		out = append(out, cur)
		cur = e.next
		hops++
	}
	return out, nil
}
