package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/irgordon/uplink/internal/stats"
	"github.com/irgordon/uplink/internal/uplink"
	"github.com/irgordon/uplink/internal/uplog"
)

const (
	serviceName    = "uplinkd"
	serviceVersion = "0.3.0"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("UPLINK_CONFIG", "config.json"), "path to the JSON configuration")
	flag.Parse()

	// Everything written through the logger is also captured by the
	// ring buffer, which the uplink streams to the controller.
	logbuf := uplog.New()
	go logbuf.Run()
	defer logbuf.Close()

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logbuf), &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("booting uplink agent", "version", serviceVersion)

	blob, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Error("FATAL: cannot read config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg, err := uplink.ReadConfig(blob)
	if err != nil {
		logger.Error("FATAL: bad config", "error", err)
		os.Exit(1)
	}
	if !cfg.WSLogging {
		logbuf.Disable()
	}

	reg := stats.NewRegistry()

	up, err := uplink.New(uplink.Params{
		Config:    cfg,
		Service:   serviceName,
		Version:   serviceVersion,
		Logger:    logger,
		LogBuffer: logbuf,
		Stats:     reg,
		LiveUpdate: func(image []byte) error {
			// A userland agent swaps itself: stage the image next to
			// the binary and re-exec.
			return stageAndExec(image)
		},
		Restore: func() {
			logger.Warn("live update failed, resuming previous image")
		},
		PanicLog: consumePanicMarker,
	})
	if err != nil {
		logger.Error("FATAL: uplink init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprint(r)
			writePanicMarker(reason)
			up.SendPanic(reason)
			if cfg.Reboot {
				os.Exit(1)
			}
			panic(r)
		}
	}()

	if err := up.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("uplink stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("uplink shut down")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// panicMarkerPath is where a crash reason survives until the next
// successful dock replays it.
func panicMarkerPath() string {
	self, err := os.Executable()
	if err != nil {
		return "uplinkd.panic"
	}
	return self + ".panic"
}

func writePanicMarker(reason string) {
	_ = os.WriteFile(panicMarkerPath(), []byte(reason), 0o600)
}

// consumePanicMarker hands a recorded panic to the uplink once, then
// clears it.
func consumePanicMarker() ([]byte, bool) {
	path := panicMarkerPath()
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	os.Remove(path)
	return data, true
}

// stageAndExec writes the received image beside the running binary and
// execs into it, completing the update without supervisor help.
func stageAndExec(image []byte) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	staged := self + ".next"
	if err := os.WriteFile(staged, image, 0o755); err != nil {
		return err
	}
	if err := os.Rename(staged, self); err != nil {
		return err
	}
	return syscall.Exec(self, os.Args, os.Environ())
}
