package event

import (
	"sync"
	"time"
)

// Pools for the two high-frequency event kinds. Ticks fire once per
// second per room and settlement results arrive in bursts when a
// round closes; pooling them keeps GC pressure off the coordinator
// loop.
//
// Usage:
//
//	ev := AcquireTickEvent(now)
//	coord.Inbox() <- ev
//	// the coordinator releases it after processing
var tickPool = sync.Pool{
	New: func() interface{} {
		return &TickEvent{}
	},
}

// AcquireTickEvent gets a TickEvent from the pool.
func AcquireTickEvent(now time.Time) *TickEvent {
	ev := tickPool.Get().(*TickEvent)
	ev.Now = now
	return ev
}

// ReleaseTickEvent returns a TickEvent to the pool.
func ReleaseTickEvent(ev *TickEvent) {
	if ev == nil {
		return
	}
	ev.Now = time.Time{}
	tickPool.Put(ev)
}

// SettlementResultEvent pool
var settlementResultPool = sync.Pool{
	New: func() interface{} {
		return &SettlementResultEvent{}
	},
}

// AcquireSettlementResultEvent gets a SettlementResultEvent from the pool.
func AcquireSettlementResultEvent() *SettlementResultEvent {
	return settlementResultPool.Get().(*SettlementResultEvent)
}

// ReleaseSettlementResultEvent returns a SettlementResultEvent to the pool.
func ReleaseSettlementResultEvent(ev *SettlementResultEvent) {
	if ev == nil {
		return
	}
	ev.Key = ""
	ev.Status = ""
	ev.Attempts = 0
	ev.Err = ""

	settlementResultPool.Put(ev)
}
