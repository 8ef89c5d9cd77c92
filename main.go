/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/renderengine/engine"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/null"
	"github.com/spaghettifunk/renderengine/testbed"
)

func main() {
	configPath := flag.String("config", "", "path of a TOML configuration file")
	frames := flag.Uint64("frames", 0, "stop after that many frames, 0 runs until interrupted")
	fps := flag.Uint("fps", 60, "target frame rate")
	flag.Parse()

	cfg := core.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = core.LoadConfig(*configPath); err != nil {
			core.LogFatal("%v", err)
		}
	}

	e, err := engine.New(cfg, null.New(),
		engine.WithKernelLoader(testbed.KernelSource),
		engine.OnFailure(func(ev *core.ResourceEvent) {
			core.LogError("resource %s failed: %v", ev.Name, ev.Err)
		}),
		engine.OnDeviceLost(func(err error) {
			core.LogError("%v", err)
		}),
	)
	if err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Start(ctx); err != nil {
		panic(err)
	}

	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		Name:      "Render Engine Testbed",
		TargetFPS: uint32(*fps),
		MaxFrames: *frames,
	})

	// run engine
	runErr := e.Run(ctx, tb.Game)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogError("%v", runErr)
		os.Exit(1)
	}
}
