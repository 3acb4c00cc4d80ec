// Command hyperfand is the privileged fan-control daemon: it owns every
// write to sysfs PWM channels, the embedded controller, and GPU fan
// registers, and exposes read/write access to unprivileged clients over a
// Unix domain socket. Bootstrap sequence (config load, subsystem init,
// signal handling, graceful shutdown) follows the teacher's
// cmd/main.go Application lifecycle, adapted from a single-board-computer
// service to this daemon's config/IPC/control-loop shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/hyperfan-project/hyperfand/internal/configstore"
	"github.com/hyperfan-project/hyperfand/internal/control"
	"github.com/hyperfan-project/hyperfand/internal/detect"
	"github.com/hyperfan-project/hyperfand/internal/ec"
	"github.com/hyperfan-project/hyperfand/internal/gpu"
	"github.com/hyperfan-project/hyperfand/internal/ipcserver"
	"github.com/hyperfan-project/hyperfand/internal/logging"
	"github.com/hyperfan-project/hyperfand/internal/ratelimit"
)

const (
	defaultSettingsPath = "/etc/hyperfan/settings.json"
	defaultCurvesPath   = "/etc/hyperfan/curves.json"
	defaultPrivGroup    = "hyperfan"
)

func main() {
	app := cli.NewApp()
	app.Name = "hyperfand"
	app.Usage = "hardware fan-control daemon"
	app.Version = ipcserver.Version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "settings", Value: defaultSettingsPath, Usage: "path to settings.json"},
		cli.StringFlag{Name: "curves", Value: defaultCurvesPath, Usage: "path to curves.json"},
		cli.StringFlag{Name: "socket", Value: ipcserver.DefaultSocketPath, Usage: "Unix socket path"},
		cli.StringFlag{Name: "group", Value: defaultPrivGroup, Usage: "privileged group name"},
		cli.StringFlag{Name: "log-file", Value: logging.DefaultLogPath, Usage: "log file path"},
		cli.BoolFlag{Name: "console", Usage: "also log to stderr"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		cli.BoolFlag{Name: "service", Usage: "run the daemon in the foreground (the mode a supervisor should invoke)"},
		cli.StringFlag{Name: "dump-ec", Usage: "dump a best-effort EC profile with the given motherboard name, then exit"},
		cli.StringFlag{Name: "cpu", Usage: "CPU name recorded in a --dump-ec profile"},
	}

	app.Action = func(c *cli.Context) error {
		if dumpTarget := c.String("dump-ec"); dumpTarget != "" {
			return runDumpEC(dumpTarget, c.String("cpu"))
		}
		if c.Bool("service") {
			return runService(c)
		}
		cli.ShowAppHelp(c)
		return cli.NewExitError("no mode selected: pass --service to run the daemon or --dump-ec to dump a hardware profile", 2)
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, "hyperfand:", err)
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "hyperfand:", err)
		os.Exit(1)
	}
}

func runDumpEC(motherboard, cpu string) error {
	path, err := ec.DumpProfile(motherboard, cpu)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hyperfand: EC dump failed:", err)
		return cli.NewExitError("", 1)
	}
	fmt.Println("wrote EC profile to", path)
	return nil
}

func runService(c *cli.Context) error {
	log, err := logging.New(logging.Options{
		Path: c.String("log-file"), Console: c.Bool("console"), Debug: c.Bool("debug"),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hyperfand: failed to initialize logging:", err)
		return cli.NewExitError("", 1)
	}
	defer log.Sync()

	log.Info("hyperfand starting", zap.String("version", ipcserver.Version))

	store := configstore.New(c.String("settings"), c.String("curves"))
	overrides := control.NewOverrideTable()

	settings, err := store.LoadSettings()
	if err != nil {
		log.Warn("settings failed to validate, starting from defaults", zap.Error(err))
	}
	period := time.Duration(settings.General.PollIntervalMs) * time.Millisecond
	if period <= 0 {
		period = time.Second
	}

	loop := control.New(log, overrides, period)
	gpuMgr := gpu.NewManager()
	detector := detect.New(nil)

	rlWindow := time.Duration(settings.General.RateLimitWindow) * time.Second
	if rlWindow <= 0 {
		rlWindow = ratelimit.DefaultWindow
	}
	rlQuota := settings.General.RateLimitQuota
	if rlQuota == 0 {
		rlQuota = 1000
	}
	rl := ratelimit.NewRegistry(rlQuota, rlWindow)

	daemon, err := ipcserver.NewDaemon(log, gpuMgr, store, overrides, loop, detector, rl)
	if err != nil {
		log.Error("failed to initialize daemon", zap.Error(err))
		return cli.NewExitError("", 1)
	}

	auth := ipcserver.NewAuthenticator(c.String("group"))
	srv := ipcserver.New(c.String("socket"), daemon, auth, rl, log, 32)
	if err := os.MkdirAll(filepath.Dir(c.String("socket")), 0755); err != nil {
		log.Error("failed to prepare socket directory", zap.Error(err))
		return cli.NewExitError("", 1)
	}
	if err := srv.Listen(); err != nil {
		log.Error("failed to bind IPC socket", zap.Error(err), zap.String("path", c.String("socket")))
		return cli.NewExitError("", 1)
	}

	watcher, err := configstore.NewWatcher(c.String("settings"), c.String("curves"), func() {
		log.Info("config change detected, reloading")
		if err := daemon.Reload(); err != nil {
			log.Warn("config reload failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("config watcher failed to start, hot-reload disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			log.Error("IPC server exited unexpectedly", zap.Error(err))
		}
	}

	cancel()
	loop.Stop()
	log.Info("hyperfand stopped")
	return nil
}
