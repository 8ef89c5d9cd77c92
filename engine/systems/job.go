package systems

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spaghettifunk/renderengine/engine/containers"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"golang.org/x/sync/errgroup"
)

/**
 * @brief JobSystem is a pool of workers draining one unbounded FIFO. Workers
 * block while the queue is empty. Only jobs whose type is in the pool's
 * type mask are accepted.
 */
type JobSystem struct {
	name       string
	numWorkers int
	typeMask   metadata.JobType
	jobQueue   *containers.Queue[metadata.JobTask]
	depth      prometheus.Gauge
	running    atomic.Bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrJobType = fmt.Errorf("job type not accepted by this worker pool")

func NewJobSystem(name string, numWorkers int, typeMask metadata.JobType) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if typeMask&metadata.JOB_TYPE_GPU_RESOURCE != 0 {
		return nil, fmt.Errorf("%s: gpu jobs only run on the device thread: %w", name, ErrJobType)
	}
	return &JobSystem{
		name:       name,
		numWorkers: numWorkers,
		typeMask:   typeMask,
		jobQueue:   containers.NewQueue[metadata.JobTask](),
	}, nil
}

// WithDepthGauge reports the queue depth of the pool on g.
func (js *JobSystem) WithDepthGauge(g prometheus.Gauge) *JobSystem {
	js.depth = g
	return js
}

/**
 * @brief Runs the workers until the job system is shut down and its queue is
 * drained. Jobs already queued when Shutdown is called still run.
 */
func (js *JobSystem) Run(ctx context.Context) error {
	if !js.running.CompareAndSwap(false, true) {
		return fmt.Errorf("job system %s: %w", js.name, core.ErrAlreadyStarted)
	}
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < js.numWorkers; i++ {
		g.Go(func() error {
			for {
				job, ok := js.jobQueue.Pop()
				if !ok {
					return nil
				}
				js.updateDepth()
				js.execute(job)
			}
		})
	}
	core.LogDebug("job system %s started with %d workers", js.name, js.numWorkers)
	return g.Wait()
}

func (js *JobSystem) execute(job metadata.JobTask) {
	// Run the job and handle potential errors
	if err := job.OnStart(); err != nil {
		if job.OnFailure != nil {
			job.OnFailure(err)
		} else {
			core.LogError("job system %s: %s", js.name, err.Error())
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

/**
 * @brief Shuts the job system down. Run returns once the queue is drained.
 */
func (js *JobSystem) Shutdown() {
	js.jobQueue.Close()
}

/**
 * @brief Submits the provided job to be queued for execution. Never blocks.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) error {
	if jt.OnStart == nil {
		return fmt.Errorf("job system %s: job without entry point", js.name)
	}
	if jt.Type&js.typeMask == 0 {
		return fmt.Errorf("job system %s: %s: %w", js.name, jt.Type, ErrJobType)
	}
	if !js.jobQueue.Push(jt) {
		return fmt.Errorf("job system %s: %w", js.name, core.ErrEngineStopped)
	}
	js.updateDepth()
	return nil
}

// Pending is the number of queued jobs not yet picked up by a worker.
func (js *JobSystem) Pending() int {
	return js.jobQueue.Len()
}

func (js *JobSystem) updateDepth() {
	if js.depth != nil {
		js.depth.Set(float64(js.jobQueue.Len()))
	}
}
