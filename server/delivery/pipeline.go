package delivery

import (
	"context"
	"sync"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Pipeline is an asynchronous output queue. Handlers queue the activities
// they produce and return right away; Run delivers them in the background.
type Pipeline struct {
	engine   *Engine
	pipeline chan outgoing
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed when pending drops to zero

	// Reports receives the report of every delivery when set.
	Reports func(*Report)
}

// outgoing is an activity waiting to be delivered
type outgoing struct {
	act    activity.Activity
	sender activity.Actor
}

func NewPipeline(engine *Engine, size int) *Pipeline {
	idle := make(chan struct{})
	close(idle)
	return &Pipeline{
		engine:   engine,
		pipeline: make(chan outgoing, size),
		stop:     make(chan struct{}),
		idle:     idle,
	}
}

// Queue schedules act for delivery on behalf of sender. After the pipeline
// stopped, activities are dropped with a warning.
func (p *Pipeline) Queue(act activity.Activity, sender activity.Actor) {
	p.mu.Lock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	p.mu.Unlock()

	select {
	case <-p.stop:
		telemetry.Warn("delivery stopped, dropping %s %s", act.Type(), activity.ID(act))
		p.done()
		return
	default:
	}
	select {
	case p.pipeline <- outgoing{act: act, sender: sender}:
	case <-p.stop:
		telemetry.Warn("delivery stopped, dropping %s %s", act.Type(), activity.ID(act))
		p.done()
	}
}

func (p *Pipeline) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// Run delivers queued activities until ctx ends. Expected to be run in a goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case msg := <-p.pipeline:
			p.deliver(ctx, msg)
		}
	}
}

// shutdown refuses new activities and drops the ones still queued.
func (p *Pipeline) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	for {
		select {
		case msg := <-p.pipeline:
			telemetry.Warn("delivery stopped, dropping %s %s", msg.act.Type(), activity.ID(msg.act))
			p.done()
		default:
			return
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, msg outgoing) {
	defer p.done()
	report := p.engine.Deliver(ctx, msg.act, msg.sender)
	if err := report.Err(); err != nil {
		telemetry.Error(err, "delivering %s %s: %d delivered, %d failed",
			msg.act.Type(), report.Activity, len(report.Delivered), len(report.Failed))
	} else {
		telemetry.Log("delivered %s %s to %d recipients", msg.act.Type(), report.Activity, len(report.Delivered))
	}
	if p.Reports != nil {
		p.Reports(report)
	}
}

// Flush waits until every queued activity has been delivered, or ctx ends.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
