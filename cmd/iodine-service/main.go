// Program iodine-service is the supervisor entry point: init's
// "service" stage. It scans a unit file directory, starts one worker
// per service, and serves the control socket for the lifetime of the
// system.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hen6003/iodine/logging"
	"github.com/hen6003/iodine/supervisor"
)

func main() {
	logging.Init()

	servicesDir := pflag.String("services-dir", "/etc/iodine/services", "directory of unit files to supervise")
	workDir := pflag.String("work-dir", ".", "directory the control socket and registry dump are written under")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := supervisor.New(*workDir, *servicesDir, supervisor.WithLogger(slog.Default()))

	if err := s.Start(ctx); err != nil {
		slog.Error("supervisor startup failed", "error", err)
		os.Exit(1)
	}

	if err := s.Serve(ctx); err != nil {
		slog.Error("supervisor serve failed", "error", err)
		os.Exit(1)
	}
}
