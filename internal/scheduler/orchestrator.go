package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"vivarium/internal/config"
	"vivarium/pkg/logging"
)

// Child is a long running process started by the orchestrator.
type Child struct {
	Name string
	Path string
	Args []string
}

// Orchestrator starts the enabled scheduler processes and stops them
// together.
type Orchestrator struct {
	children []Child
	logger   logging.Logger
}

// NewOrchestrator builds the child list from the scheduler section. Extra
// args (typically the config flags) are passed to every child.
func NewOrchestrator(cfg config.SchedulerConfig, args []string, logger logging.Logger) *Orchestrator {
	var children []Child
	if cfg.EnableWeatherFetcher {
		children = append(children, Child{Name: "weather_fetcher", Path: cfg.WeatherFetcherBin, Args: args})
	}
	if cfg.EnableVivarium {
		children = append(children, Child{Name: "vivarium_controller", Path: cfg.VivariumBin, Args: args})
	}
	return &Orchestrator{children: children, logger: logger}
}

// Children returns the processes Run will start.
func (o *Orchestrator) Children() []Child {
	return o.children
}

type exit struct {
	name string
	err  error
}

// Run starts every child and blocks until all of them have exited. When
// ctx is cancelled each running child is sent SIGTERM and waited for.
// Exits caused by that SIGTERM are not reported as errors.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.children) == 0 {
		o.logger.Warn(ctx, "[ORCHESTRATOR_EMPTY] No processes enabled", logging.Fields{})
		return nil
	}

	var result *multierror.Error
	running := map[string]*exec.Cmd{}
	exits := make(chan exit, len(o.children))

	for _, c := range o.children {
		cmd := exec.Command(c.Path, c.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			o.logger.Error(ctx, "[ORCHESTRATOR_START_ERROR] Failed to start process", logging.Fields{
				"process": c.Name,
				"path":    c.Path,
			}, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		o.logger.Info(ctx, "[ORCHESTRATOR_START] Process started", logging.Fields{
			"process": c.Name,
			"pid":     cmd.Process.Pid,
		})
		running[c.Name] = cmd

		go func(name string, cmd *exec.Cmd) {
			exits <- exit{name: name, err: cmd.Wait()}
		}(c.Name, cmd)
	}

	terminated := false
	done := ctx.Done()
	for len(running) > 0 {
		select {
		case <-done:
			done = nil
			terminated = true
			for name, cmd := range running {
				o.logger.Info(ctx, "[ORCHESTRATOR_TERMINATE] Terminating process", logging.Fields{
					"process": name,
					"pid":     cmd.Process.Pid,
				})
				if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
					result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
				}
			}
		case e := <-exits:
			delete(running, e.name)
			if e.err != nil && !(terminated && killedBySIGTERM(e.err)) {
				o.logger.Error(ctx, "[ORCHESTRATOR_EXIT_ERROR] Process exited with error", logging.Fields{
					"process": e.name,
				}, e.err)
				result = multierror.Append(result, fmt.Errorf("%s: %w", e.name, e.err))
				continue
			}
			o.logger.Info(ctx, "[ORCHESTRATOR_EXIT] Process exited", logging.Fields{
				"process": e.name,
			})
		}
	}
	return result.ErrorOrNil()
}

func killedBySIGTERM(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == syscall.SIGTERM
}
