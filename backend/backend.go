package backend

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/cmn/nlog"
	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/hk"
	"github.com/liuhatry/Aluminum/memsys"
	"github.com/liuhatry/Aluminum/progress"
	"github.com/liuhatry/Aluminum/stats"
	"github.com/liuhatry/Aluminum/xport"
)

func errInvalidAlgorithm(a Algorithm) error {
	return errors.Errorf("backend: invalid algorithm selection %d", int(a))
}

const pressureInterval = 2 * time.Second

// slot is one member of the internal stream pool: a device stream paired
// with the progress engine that polls every collective issued on it.
type slot struct {
	stream device.Stream
	engine *progress.Engine
}

// Backend is the host-transfer façade of spec §4.7. One Backend serves one
// communicator.
type Backend struct {
	Comm string
	cfg  Config

	rt device.Runtime
	tp xport.Transport

	dataPool *memsys.Pool
	syncPool *memsys.Pool
	events   *device.EventPool

	slots    []slot
	issueSeq atomic.Int64
}

// New constructs a Backend bound to rt/tp for communicator comm, reading
// its tunables from the environment (spec §6's init()). It starts one
// progress-engine goroutine per internal stream and registers a
// housekeeping job that publishes the aggregate in-flight count to the
// stats gauge - ambient observability, never on the engine's own poll loop. newStream, if
// non-nil, replaces rt.NewStream as the source of internal-pool streams -
// the hook alcore.ReplaceInternalStreams installs.
func New(rt device.Runtime, tp xport.Transport, comm string, newStream func(priority int) device.Stream) *Backend {
	cfg := ConfigFromEnv()
	if newStream == nil {
		newStream = rt.NewStream
	}
	b := &Backend{
		Comm:     comm,
		cfg:      cfg,
		rt:       rt,
		tp:       tp,
		dataPool: memsys.New(comm+"-data", rt),
		syncPool: memsys.New(comm+"-sync", rt),
		events:   device.NewEventPool(rt),
	}
	if cfg.SyncMemPrealloc > 0 {
		if err := b.syncPool.Preallocate(cos.CacheLineSize, cfg.SyncMemPrealloc); err != nil {
			nlog.Warningf("backend[%s]: sync pool preallocate: %v", comm, err)
		}
	}
	priority := 0
	if cfg.UsePriorityStream {
		priority = 1
	}
	b.slots = make([]slot, cfg.StreamPoolSize)
	for i := range b.slots {
		stream := newStream(priority)
		engine := progress.New(cfg.ProgressCPUs, stats.Observer{})
		go engine.Run()
		b.slots[i] = slot{stream: stream, engine: engine}
	}
	hk.Reg(hk.NameSuffix("backend-pressure", comm), b.reportPressure, pressureInterval)
	return b
}

func (b *Backend) reportPressure() time.Duration {
	total := 0
	for _, s := range b.slots {
		total += s.engine.InFlight()
	}
	stats.SetInFlight(total)
	return pressureInterval
}

// slotFor round-robins successive collectives across the internal stream
// pool, starting from a deterministic per-communicator offset (spec §4.7:
// distinct communicators shouldn't all contend on slot 0).
func (b *Backend) slotFor() slot {
	off := cos.StreamOffset(b.Comm, len(b.slots))
	seq := int(b.issueSeq.Add(1) - 1)
	return b.slots[(off+seq)%len(b.slots)]
}

// Name identifies this façade instance in logs/metrics.
func (b *Backend) Name() string { return "aluminum/" + b.Comm }

// Finalize drains every internal progress engine and releases pool memory.
// No further collectives may be issued on this Backend afterward.
func (b *Backend) Finalize() {
	for _, s := range b.slots {
		s.engine.Stop(nil)
		s.engine.WaitStopped()
	}
	hk.Unreg(hk.NameSuffix("backend-pressure", b.Comm))
	b.dataPool.Drain()
	b.syncPool.Drain()
}
