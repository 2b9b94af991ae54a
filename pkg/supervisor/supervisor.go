// Package supervisor spawns and observes one long-lived task per configured
// driver instance: it owns process lifetime, not message routing.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

// Instance names one running driver within the process: "<platform>/<id>".
type Instance struct {
	Platform   string
	InstanceID string
	Driver     driver.Driver
}

// Name returns the stable task name used in logging: "<platform>/<id>".
func (i Instance) Name() string {
	return fmt.Sprintf("%s/%s", i.Platform, i.InstanceID)
}

// Supervisor runs a fixed set of driver instances to completion, logging any
// instance that exits with an error, and never letting one instance's
// failure take down the others.
type Supervisor struct {
	instances []Instance
}

// New builds a Supervisor over instances. The set is fixed for the
// Supervisor's lifetime; adding instances after construction isn't
// supported — restart the process with updated config instead.
func New(instances []Instance) *Supervisor {
	return &Supervisor{instances: instances}
}

// Run starts every instance's Start in its own goroutine and blocks until
// all of them return, or until ctx is canceled — cancellation is propagated
// to every instance and Run then waits (best effort) for them to drain.
// Run itself never returns an error: per-instance failures (a driver exiting
// with an error or panicking) are logged by runOne, not bubbled up,
// so one misconfigured driver never prevents the others from running.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range s.instances {
		wg.Add(1)
		go func(inst Instance) {
			defer wg.Done()
			s.runOne(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

// runOne starts a single instance and reports its outcome, recovering from
// a panic inside Start so one driver's bug can't crash the process.
func (s *Supervisor) runOne(ctx context.Context, inst Instance) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("supervisor", "driver task panicked", map[string]any{
				"task": inst.Name(), "panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	logger.InfoCF("supervisor", "starting driver task", map[string]any{"task": inst.Name()})
	err := inst.Driver.Start(ctx)
	switch {
	case err != nil:
		logger.ErrorCF("supervisor", "driver task exited with error", map[string]any{
			"task": inst.Name(), "error": err.Error(),
		})
	case ctx.Err() != nil:
		logger.InfoCF("supervisor", "driver task stopped on cancellation", map[string]any{"task": inst.Name()})
	default:
		logger.InfoCF("supervisor", "driver task exited", map[string]any{"task": inst.Name()})
	}
}
