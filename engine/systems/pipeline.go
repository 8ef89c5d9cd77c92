package systems

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
	"golang.org/x/sync/errgroup"
)

// CommandSink receives the commands the pipeline hands to the device thread.
// Enqueue reports false once the sink no longer accepts commands.
type CommandSink interface {
	Enqueue(cmd *metadata.ResourceCommand) bool
}

/**
 * @brief Pipeline moves resources from LOADING to COPYING without touching
 * the device. Each stage is a job system with its own queue: load (I/O),
 * decompress (worker pool) and copy, which hands LOCK commands to the
 * device thread. A command whose ticket went stale, or whose resource was
 * deleted, is dropped at the next stage boundary.
 */
type Pipeline struct {
	load       *JobSystem
	decompress *JobSystem
	copy       *JobSystem

	device  CommandSink
	metrics *core.Metrics

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewPipeline(cfg core.PipelineConfig, device CommandSink, metrics *core.Metrics) (*Pipeline, error) {
	load, err := NewJobSystem("load", cfg.LoadWorkers, metadata.JOB_TYPE_RESOURCE_LOAD)
	if err != nil {
		return nil, err
	}
	decompress, err := NewJobSystem("decompress", cfg.DecompressWorkers, metadata.JOB_TYPE_GENERAL)
	if err != nil {
		return nil, err
	}
	cp, err := NewJobSystem("copy", 1, metadata.JOB_TYPE_GENERAL)
	if err != nil {
		return nil, err
	}
	if metrics != nil {
		load.WithDepthGauge(metrics.QueueDepth.WithLabelValues("load"))
		decompress.WithDepthGauge(metrics.QueueDepth.WithLabelValues("decompress"))
		cp.WithDepthGauge(metrics.QueueDepth.WithLabelValues("copy"))
	}
	return &Pipeline{
		load:       load,
		decompress: decompress,
		copy:       cp,
		device:     device,
		metrics:    metrics,
	}, nil
}

/**
 * @brief Starts the stages. Each stage is shut down once the stage feeding
 * it has drained, so Stop flushes the whole pipeline in order.
 */
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return core.ErrAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.group, _ = errgroup.WithContext(p.ctx)

	p.group.Go(func() error {
		defer p.decompress.Shutdown()
		return p.load.Run(p.ctx)
	})
	p.group.Go(func() error {
		defer p.copy.Shutdown()
		return p.decompress.Run(p.ctx)
	})
	p.group.Go(func() error {
		return p.copy.Run(p.ctx)
	})
	return nil
}

// Stop cancels in-flight loads and waits for every stage to drain.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	g, cancel := p.group, p.cancel
	p.mu.Unlock()
	if g == nil {
		return nil
	}
	cancel()
	p.load.Shutdown()
	return g.Wait()
}

/**
 * @brief Queues a LOAD command. On error the command has been completed
 * and dropped.
 */
func (p *Pipeline) Submit(cmd *metadata.ResourceCommand) error {
	if cmd.Op != metadata.OP_LOAD {
		panic(fmt.Sprintf("systems: pipeline accepts LOAD commands, got %s", cmd.Op))
	}
	err := p.load.Submit(metadata.JobTask{
		Type:      metadata.JOB_TYPE_RESOURCE_LOAD,
		OnStart:   func() error { return p.runLoad(cmd) },
		OnFailure: func(err error) { p.fail(cmd, "load", err) },
	})
	if err != nil {
		cmd.Complete()
	}
	return err
}

// Pending returns the number of queued jobs per stage.
func (p *Pipeline) Pending() (load, decompress, cp int) {
	return p.load.Pending(), p.decompress.Pending(), p.copy.Pending()
}

func (p *Pipeline) runLoad(cmd *metadata.ResourceCommand) error {
	res := cmd.Resource
	if res.Ticket() != cmd.Ticket {
		p.drop(cmd, "load")
		return nil
	}

	var raw []byte
	if cmd.Loader != nil {
		var err error
		if raw, err = cmd.Loader.Load(p.context(), res.Descriptor()); err != nil {
			return err
		}
	}
	if !res.Advance(cmd.Ticket, resources.StateLoading, resources.StateDecompressing) {
		p.drop(cmd, "load")
		return nil
	}

	next := cmd.Next(metadata.OP_DECOMPRESS)
	next.Data = raw
	err := p.decompress.Submit(metadata.JobTask{
		Type:      metadata.JOB_TYPE_GENERAL,
		OnStart:   func() error { return p.runDecompress(next) },
		OnFailure: func(err error) { p.fail(next, "decompress", err) },
	})
	if err != nil {
		p.drop(next, "load")
	}
	return nil
}

func (p *Pipeline) runDecompress(cmd *metadata.ResourceCommand) error {
	res := cmd.Resource
	if res.Ticket() != cmd.Ticket {
		p.drop(cmd, "decompress")
		return nil
	}

	data := cmd.Data
	if cmd.Loader != nil {
		var err error
		if data, err = cmd.Loader.Decompress(res.Descriptor(), cmd.Data); err != nil {
			return err
		}
	}
	if !res.Advance(cmd.Ticket, resources.StateDecompressing, resources.StateCopying) {
		p.drop(cmd, "decompress")
		return nil
	}

	next := cmd.Next(metadata.OP_COPY)
	next.Data = data
	err := p.copy.Submit(metadata.JobTask{
		Type:    metadata.JOB_TYPE_GENERAL,
		OnStart: func() error { return p.runCopy(next) },
	})
	if err != nil {
		p.drop(next, "decompress")
	}
	return nil
}

// runCopy stages the data in one tightly sized buffer and hands the resource
// to the device thread.
func (p *Pipeline) runCopy(cmd *metadata.ResourceCommand) error {
	if cmd.Resource.Ticket() != cmd.Ticket {
		p.drop(cmd, "copy")
		return nil
	}
	next := cmd.Next(metadata.OP_LOCK)
	next.Data = stage(cmd.Data)
	if !p.device.Enqueue(next) {
		p.drop(next, "copy")
	}
	return nil
}

// fail reports a stage failure to the device thread, which returns the
// resource to DISPOSED and releases its waiting draws.
func (p *Pipeline) fail(cmd *metadata.ResourceCommand, stage string, err error) {
	core.LogWarn("%s stage failed for %s: %v", stage, cmd.Resource.Descriptor(), err)
	if p.metrics != nil {
		p.metrics.StageFailures.WithLabelValues(stage).Inc()
	}
	next := cmd.Next(metadata.OP_DISPOSE)
	next.Err = fmt.Errorf("%s %s: %w", stage, cmd.Resource.Descriptor(), err)
	if !p.device.Enqueue(next) {
		next.Complete()
	}
}

func (p *Pipeline) drop(cmd *metadata.ResourceCommand, stage string) {
	core.LogDebug("%s stage dropped stale %s for %s", stage, cmd.Op, cmd.Resource.Descriptor())
	cmd.Complete()
}

func (p *Pipeline) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func stage(data []byte) []byte {
	if data == nil || cap(data) == len(data) {
		return data
	}
	staged := make([]byte, len(data))
	copy(staged, data)
	return staged
}
