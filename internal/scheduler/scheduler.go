// Package scheduler owns the periodic trigger for the recurrence
// materializer. The controller is an injectable object with its own
// lifecycle; nothing here is package-global, so the engine stays testable by
// calling RunOnce directly without any scheduler wiring.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clientray/internal/services"
)

// Status is what the admin status endpoint reports.
type Status struct {
	Running bool       `json:"running"`
	Every   string     `json:"every"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Controller drives RecurrenceService.RunOnce on a fixed cadence and once
// right after start, to catch occurrences missed while the process was down.
type Controller struct {
	svc      services.RecurrenceService
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	running bool
}

func NewController(svc services.RecurrenceService, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Controller{svc: svc, interval: interval}
}

// Start registers the periodic job and kicks one immediate catch-up pass.
// Starting an already running controller is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.cron = cron.New()
	spec := fmt.Sprintf("@every %ds", int(c.interval.Seconds()))
	entry, err := c.cron.AddFunc(spec, c.runPass)
	if err != nil {
		return fmt.Errorf("schedule recurring pass: %w", err)
	}
	c.entry = entry
	c.cron.Start()
	c.running = true
	log.Printf("[scheduler][start] recurring pass every %s", c.interval)

	go c.runPass() // catch-up for occurrences due while we were down
	return nil
}

// Stop halts the periodic trigger and waits for an in-flight pass to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	<-c.cron.Stop().Done()
	c.running = false
	log.Printf("[scheduler][stop] recurring pass stopped")
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Running: c.running, Every: c.interval.String()}
	if c.running {
		next := c.cron.Entry(c.entry).Next
		if !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

func (c *Controller) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := c.svc.RunOnce(ctx); err != nil {
		log.Printf("[scheduler][pass][err] %v", err)
	}
}
