package server

import (
	"log"
	"sync"
	"time"
)

const retrySweepInterval = 30 * time.Second

// Scheduler fires deletion of expired messages. Timers are independent of
// connection lifetime: a message expires even if its author disconnected.
// Deletions that fail are retried on the next sweep tick instead of being
// abandoned.
type Scheduler struct {
	store  *MessageStore
	log    *log.Logger
	notify func(channel string, id int64)

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	pending map[int64]string // failed deletions awaiting retry, id -> channel

	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a scheduler that deletes through store and reports
// each successful removal via notify.
func NewScheduler(store *MessageStore, notify func(channel string, id int64), l *log.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		log:     l,
		notify:  notify,
		timers:  make(map[int64]*time.Timer),
		pending: make(map[int64]string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Schedule arms a one-shot deletion of message id at the given instant.
func (sc *Scheduler) Schedule(id int64, channel string, at time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.timers[id]; ok {
		return
	}

	sc.timers[id] = time.AfterFunc(time.Until(at), func() {
		sc.fire(id, channel)
	})
}

// Cancel disarms the timer for id after a manual deletion. Missing the
// race is harmless: the fired timer's delete is a no-op.
func (sc *Scheduler) Cancel(id int64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if t, ok := sc.timers[id]; ok {
		t.Stop()
		delete(sc.timers, id)
	}
	delete(sc.pending, id)
}

func (sc *Scheduler) fire(id int64, channel string) {
	sc.mu.Lock()
	delete(sc.timers, id)
	sc.mu.Unlock()

	deleted, err := sc.store.Delete(id)
	if err != nil {
		sc.log.Printf("scheduler: delete message %d: %v", id, err)
		sc.mu.Lock()
		sc.pending[id] = channel
		sc.mu.Unlock()
		return
	}

	// A second delete attempt finds nothing and must not broadcast a
	// second removal.
	if deleted {
		sc.notify(channel, id)
	}
}

// Run retries failed deletions until Shutdown.
func (sc *Scheduler) Run() {
	ticker := time.NewTicker(retrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.stop:
			close(sc.done)
			return
		case <-ticker.C:
			sc.retryPending()
		}
	}
}

func (sc *Scheduler) retryPending() {
	sc.mu.Lock()
	retry := make(map[int64]string, len(sc.pending))
	for id, channel := range sc.pending {
		retry[id] = channel
	}
	sc.pending = make(map[int64]string)
	sc.mu.Unlock()

	for id, channel := range retry {
		sc.fire(id, channel)
	}
}

func (sc *Scheduler) Shutdown() {
	close(sc.stop)
	<-sc.done

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for id, t := range sc.timers {
		t.Stop()
		delete(sc.timers, id)
	}
}
