// Package podwatch implements the legacy backlog metadata-binding strategy
// (spec §4.3.B): application metadata arrives asynchronously from a pod-event
// stream, and deliveries for a not-yet-bound producer UID are held in a
// per-UID backlog until metadata binds or the state expires.
package podwatch

import (
	"context"
	"sync"
	"time"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource"
)

// ReplayFunc runs steps 4-7 of the handler contract (merge, enrich, publish,
// ack/reject) for a single previously-backlogged delivery now that metadata
// is available.
type ReplayFunc func(ctx context.Context, d broker.Delivery, appMeta meta.Application)

// Counters is the subset of the metrics the backlog engine updates.
type Counters interface {
	IncBacklogged()
	IncExpired()
	IncPodsExpired()
	SetMessagesInBacklog(n float64)
	SetPodsInBacklog(n float64)
}

// Config holds the two TTLs from spec §3. PodWithoutMetaTTL must be <=
// PodTTL.
type Config struct {
	PodTTL            time.Duration
	PodWithoutMetaTTL time.Duration
}

// entry is the PodState record of spec §3: metadata is nil until bound, and
// the invariant "metadata present => backlog empty after flush" is
// maintained by Engine.HandlePodEvent, which flushes the backlog while still
// holding the lock it took to bind the metadata.
type entry struct {
	metadata  meta.Application
	backlog   []broker.Delivery
	updatedAt time.Time
}

// Engine holds one entry per producer UID mentioned by a delivery or a pod
// event. Bind is called from the consumer goroutine, HandlePodEvent from the
// pod-event drain goroutine and Sweep from the expiry goroutine; mu guards
// the pods map across all of them.
type Engine struct {
	cfg      Config
	replay   ReplayFunc
	counters Counters

	mu   sync.Mutex
	pods map[string]*entry
}

// NewEngine builds a backlog engine. replay is invoked once per flushed
// delivery, in FIFO arrival order, whenever a pod event binds metadata for a
// UID that had a non-empty backlog.
func NewEngine(cfg Config, replay ReplayFunc, counters Counters) *Engine {
	return &Engine{
		cfg:      cfg,
		replay:   replay,
		counters: counters,
		pods:     map[string]*entry{},
	}
}

// Bind resolves producerUID's metadata for delivery d.
//
// If metadata is already bound, it is returned immediately with ok=true and
// d remains owned by the caller, which should proceed through steps 4-7
// itself. If metadata is not yet bound, Bind takes ownership of d by
// appending it to the UID's backlog and returns ok=false; the caller MUST
// NOT ack, reject or publish d -- that now happens later, from HandlePodEvent
// or Sweep.
func (e *Engine) Bind(producerUID string, d broker.Delivery) (meta.Application, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	pe := e.pods[producerUID]
	if pe == nil {
		pe = &entry{}
		e.pods[producerUID] = pe
	}
	pe.updatedAt = now

	if pe.metadata != nil {
		return pe.metadata, true
	}

	pe.backlog = append(pe.backlog, d)
	e.counters.IncBacklogged()
	e.updateGaugesLocked()
	return nil, false
}

// HandlePodEvent binds appMeta to producerUID and, if the UID had a
// backlog, atomically flushes it in FIFO order before returning. The replays
// run while e.mu is held, so a concurrent Bind for the same UID waits until
// the whole backlog has been flushed.
func (e *Engine) HandlePodEvent(ctx context.Context, producerUID string, appMeta meta.Application) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	pe := e.pods[producerUID]
	if pe == nil {
		pe = &entry{}
		e.pods[producerUID] = pe
	}
	pe.metadata = appMeta
	pe.updatedAt = now
	backlog := pe.backlog
	pe.backlog = nil
	e.updateGaugesLocked()

	for _, d := range backlog {
		e.replay(ctx, d, appMeta)
	}
}

// Sweep runs the periodic expiry pass (spec §4.3): a UID stuck "waiting"
// past PodWithoutMetaTTL has every backlogged delivery rejected and its
// state dropped; a UID "bound" past PodTTL simply has its state dropped.
func (e *Engine) Sweep() {
	e.mu.Lock()
	now := time.Now()
	var toReject []broker.Delivery
	podsExpired := 0
	for uid, pe := range e.pods {
		age := now.Sub(pe.updatedAt)
		switch {
		case pe.metadata == nil && age > e.cfg.PodWithoutMetaTTL:
			toReject = append(toReject, pe.backlog...)
			delete(e.pods, uid)
			podsExpired++
		case pe.metadata != nil && age > e.cfg.PodTTL:
			delete(e.pods, uid)
			podsExpired++
		}
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	for range toReject {
		e.counters.IncExpired()
	}
	for i := 0; i < podsExpired; i++ {
		e.counters.IncPodsExpired()
	}
	for _, d := range toReject {
		_ = d.Reject()
	}
}

// Binder adapts an Engine to the metasource.Binder interface expected by
// internal/handler: a miss means the delivery has already been absorbed
// into the backlog, not rejected.
type Binder struct {
	Engine *Engine
}

// NewBinder wraps an Engine for use as a metasource.Binder.
func NewBinder(e *Engine) Binder {
	return Binder{Engine: e}
}

func (b Binder) Bind(_ context.Context, producerUID string, d broker.Delivery) (meta.Application, metasource.BindResult) {
	appMeta, ok := b.Engine.Bind(producerUID, d)
	if ok {
		return appMeta, metasource.BindResolved
	}
	return nil, metasource.BindPending
}

// Reset drops all pod state without acking or rejecting backlogged
// deliveries. The supervisor calls this on broker disconnect: the delivery
// tags held in any backlog belong to a channel that no longer exists, and
// the broker will redeliver those messages once the consumer reconnects
// (spec §4.7).
func (e *Engine) Reset() {
	e.mu.Lock()
	e.pods = map[string]*entry{}
	e.updateGaugesLocked()
	e.mu.Unlock()
}

// updateGaugesLocked recomputes the backlog gauges. Caller must hold e.mu.
func (e *Engine) updateGaugesLocked() {
	var messages, pods float64
	for _, pe := range e.pods {
		if len(pe.backlog) > 0 {
			pods++
			messages += float64(len(pe.backlog))
		}
	}
	e.counters.SetMessagesInBacklog(messages)
	e.counters.SetPodsInBacklog(pods)
}
