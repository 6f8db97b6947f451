/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/testbed"
)

func main() {
	configPath := flag.String("config", "lumen.toml", "configuration file, watched for changes")
	backend := flag.String("backend", "", "software or vulkan, overrides the configuration")
	frames := flag.Uint64("frames", 0, "stop after that many frames, overrides the configuration")
	shaders := flag.String("shaders", "shaders", "directory holding the compiled ray tracing shaders")
	debug := flag.Bool("debug", false, "enable the Vulkan validation layers")
	flag.Parse()

	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		StartPosX:  100,
		StartPosY:  100,
		ConfigPath: *configPath,
		ShaderDir:  *shaders,
		Pipeline:   "raytrace",
		Debug:      *debug,
		Backend:    *backend,
		MaxFrames:  *frames,
	})

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("engine creation failed: %s", err)
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("engine initialization failed: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %s", runErr)
	}
}
