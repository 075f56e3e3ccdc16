package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vectorhq/vector/model"
)

// DefaultPollInterval is how often the poller scans for work.
const DefaultPollInterval = 10 * time.Second

// Poller scans the store for projects that need work: planning projects
// get a plan generated, executing projects get their workflow run. One
// scan runs at a time; a processing set prevents double-dispatch while a
// project's work is still in flight.
type Poller struct {
	engine   *Engine
	interval time.Duration

	mu         sync.Mutex
	processing map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller around the engine.
func NewPoller(e *Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		engine:     e,
		interval:   interval,
		processing: make(map[string]bool),
	}
}

// Start begins the poll loop. Call Stop to shut down.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.scan(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for it to exit. Work already
// dispatched runs to completion.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) scan(ctx context.Context) {
	planning, err := p.engine.Store().ListProjectsByStatus(model.StatusPlanning)
	if err != nil {
		log.Printf("poller: listing planning projects: %v", err)
	}
	for _, proj := range planning {
		if proj.PlanID != "" {
			continue // plan exists, awaiting approval
		}
		p.dispatch(ctx, proj.ID, func(ctx context.Context, id string) {
			if _, err := p.engine.GeneratePlan(ctx, id); err != nil {
				log.Printf("poller: plan generation for project %s: %v", id, err)
			}
		})
	}

	executing, err := p.engine.Store().ListProjectsByStatus(model.StatusExecuting)
	if err != nil {
		log.Printf("poller: listing executing projects: %v", err)
	}
	for _, proj := range executing {
		p.dispatch(ctx, proj.ID, func(ctx context.Context, id string) {
			if _, err := p.engine.ExecuteWorkflow(ctx, id); err != nil && !errors.Is(err, ErrWorkflowInFlight) {
				log.Printf("poller: workflow for project %s: %v", id, err)
			}
		})
	}
}

func (p *Poller) dispatch(ctx context.Context, projectID string, fn func(context.Context, string)) {
	p.mu.Lock()
	if p.processing[projectID] {
		p.mu.Unlock()
		return
	}
	p.processing[projectID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.processing, projectID)
			p.mu.Unlock()
		}()
		fn(ctx, projectID)
	}()
}
