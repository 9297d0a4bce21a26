package timerd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marlonvidal/timekeep/pkg/telemetry"
)

// Driver runs the two background cadences of an active timer: the per-second
// elapsed broadcast to watchers and the periodic durability checkpoint. Both
// stop when the coordinator goes idle.
//
// The elapsed tick only runs while at least one watcher is subscribed — the
// daemon equivalent of a foreground-visible tab. When a watcher (re)attaches,
// elapsed is re-derived from the record's start time, never resumed from a
// counter, so a suspended tick can't accumulate drift.
type Driver struct {
	coord           *Coordinator
	tickInterval    time.Duration
	checkpointEvery time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	watchers map[chan int64]struct{}
	changed  chan struct{} // pinged on watcher add/remove
	stop     chan struct{} // non-nil while active
}

// NewDriver builds a Driver and attaches it to the coordinator.
func NewDriver(coord *Coordinator, tickInterval, checkpointEvery time.Duration, logger *slog.Logger) *Driver {
	d := &Driver{
		coord:           coord,
		tickInterval:    tickInterval,
		checkpointEvery: checkpointEvery,
		logger:          logger,
		watchers:        make(map[chan int64]struct{}),
		changed:         make(chan struct{}, 1),
	}
	coord.AttachDriver(d)
	return d
}

// SetActive starts or stops the background loop. Safe to call redundantly;
// called by the coordinator on every state transition.
func (d *Driver) SetActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if active && d.stop == nil {
		d.stop = make(chan struct{})
		go d.run(d.stop)
	}
	if !active && d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

// Watch subscribes to per-second elapsed updates. The returned cancel must be
// called when the watcher disconnects; the channel is closed on cancel.
// An immediate current value is delivered on subscription so late joiners
// don't wait a full tick.
func (d *Driver) Watch() (<-chan int64, func()) {
	ch := make(chan int64, 1)

	d.mu.Lock()
	d.watchers[ch] = struct{}{}
	d.mu.Unlock()
	telemetry.APIWatchers.Inc()

	if _, elapsed, active := d.coord.Snapshot(); active {
		ch <- elapsed
	}
	d.ping()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.watchers, ch)
			d.mu.Unlock()
			close(ch)
			telemetry.APIWatchers.Dec()
			d.ping()
		})
	}
	return ch, cancel
}

func (d *Driver) ping() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

func (d *Driver) watcherCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}

func (d *Driver) run(stop chan struct{}) {
	checkpoint := time.NewTicker(d.checkpointEvery)
	defer checkpoint.Stop()

	var uiTicker *time.Ticker
	var tickC <-chan time.Time
	defer func() {
		if uiTicker != nil {
			uiTicker.Stop()
		}
	}()

	// Suspend or resume the elapsed tick to match watcher presence.
	syncTick := func() {
		n := d.watcherCount()
		if n > 0 && uiTicker == nil {
			uiTicker = time.NewTicker(d.tickInterval)
			tickC = uiTicker.C
		}
		if n == 0 && uiTicker != nil {
			uiTicker.Stop()
			uiTicker = nil
			tickC = nil
		}
	}
	syncTick()

	for {
		select {
		case <-stop:
			return
		case <-d.changed:
			syncTick()
			d.broadcast()
		case <-tickC:
			d.broadcast()
		case <-checkpoint.C:
			d.coord.checkpoint(context.Background())
		}
	}
}

// broadcast pushes the freshly recomputed elapsed seconds to every watcher.
// Slow watchers are skipped, not waited for.
func (d *Driver) broadcast() {
	_, elapsed, active := d.coord.Snapshot()
	if !active {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.watchers {
		select {
		case ch <- elapsed:
		default:
		}
	}
}
