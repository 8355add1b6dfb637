package driver

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/framework"
	"github.com/robotalks/grinder/pkg/l0/dispatch"
)

// Boot drives tasks through all phases in order, seals d after the
// register phase and then starts every healthy task on runner.
// A task failing a phase is stopped and skipped for the remaining phases,
// the others continue. The returned error aggregates those failures.
func Boot(ctx context.Context, d *dispatch.Dispatcher, runner *framework.Runner, tasks ...*Task) error {
	var errs framework.AggregatedError
	healthy := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		t.setState(StateStarting)
		healthy = append(healthy, t)
	}
	for _, phase := range Phases {
		survivors := healthy[:0]
		for _, t := range healthy {
			if phase == PhaseRegister {
				d.Register(t.ID, t)
			}
			if err := t.startup(ctx, phase); err != nil {
				glog.Errorf("%s: %s failed: %v", t.ID, phase, err)
				t.setState(StateShuttingDown)
				errs.Add(fmt.Errorf("%s: %s: %w", t.ID, phase, err))
				continue
			}
			glog.V(4).Infof("%s: %s done", t.ID, phase)
			survivors = append(survivors, t)
		}
		healthy = survivors
		if phase == PhaseRegister {
			d.Seal()
		}
	}
	for _, t := range healthy {
		runner.Go(t)
	}
	return errs.Aggregate()
}
