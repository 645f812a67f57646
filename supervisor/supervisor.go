// Package supervisor implements the C4 component: it scans a unit file
// directory, starts one worker per service, and serves the control
// socket described by the wire package.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hen6003/iodine/unitfile"
	"github.com/hen6003/iodine/wire"
	"github.com/hen6003/iodine/worker"
)

// statusSettleDelay is a brief yield between enqueueing a command and
// signalling the child, and reading status back for the response, to
// give the worker a chance to republish its state.
const statusSettleDelay = 2 * time.Millisecond

// Supervisor owns every running service and the control socket.
type Supervisor struct {
	WorkDir     string
	ServicesDir string

	log      *slog.Logger
	entries  map[string]*ServiceEntry
	provides ProvidesIndex
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// New creates a Supervisor rooted at workDir, reading unit files from servicesDir.
func New(workDir, servicesDir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		WorkDir:     workDir,
		ServicesDir: servicesDir,
		log:         slog.Default(),
		entries:     make(map[string]*ServiceEntry),
		provides:    make(ProvidesIndex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scanUnits reads every regular file under ServicesDir, parses it, and
// builds parsed-but-not-started entries keyed by derived name. A
// duplicate name is a fatal configuration error.
func (s *Supervisor) scanUnits() (map[string]unitfile.UnitFile, error) {
	dirEntries, err := os.ReadDir(s.ServicesDir)
	if err != nil {
		return nil, &ServeError{Op: "scan units", Path: s.ServicesDir, Err: err}
	}

	units := make(map[string]unitfile.UnitFile)
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}

		path := filepath.Join(s.ServicesDir, de.Name())
		unit, err := unitfile.ParseFile(path)
		if err != nil {
			return nil, &ServeError{Op: "parse unit file", Path: path, Err: err}
		}

		name := unit.Name(path)
		if _, exists := units[name]; exists {
			return nil, fmt.Errorf("%w: %q (from %s)", ErrDuplicateService, name, path)
		}
		units[name] = unit
	}

	if len(units) == 0 {
		return nil, ErrNoUnitFiles
	}

	return units, nil
}

// Start scans the services directory, starts one worker per service,
// and builds the provides index. It must complete before Serve binds
// the control socket.
func (s *Supervisor) Start(ctx context.Context) error {
	units, err := s.scanUnits()
	if err != nil {
		return err
	}

	for name, unit := range units {
		h := worker.Start(ctx, name, unit, s.log.With("service", name))
		s.entries[name] = &ServiceEntry{Name: name, Unit: unit, Handle: h}
		s.provides.addProvides(name, unit)
		s.log.Info("service registered", "service", name, "provides", unit.Service.Provides)
	}

	return dumpRegistry(s.WorkDir, s.entries)
}

// Serve removes any stale socket file, binds the control socket, and
// accepts connections serially until ctx is cancelled or the listener
// fails.
func (s *Supervisor) Serve(ctx context.Context) error {
	sockPath := filepath.Join(s.WorkDir, wire.SockLocation)

	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return &ServeError{Op: "remove stale socket", Path: sockPath, Err: err}
	}

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return &ServeError{Op: "bind socket", Path: sockPath, Err: err}
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("serving control socket", "path", sockPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &ServeError{Op: "accept", Path: sockPath, Err: err}
		}

		s.handleConn(conn)
	}
}

// handleConn is the per-connection handler: decode one request, signal
// the worker if needed, briefly yield, then reply with the current
// status.
func (s *Supervisor) handleConn(conn net.Conn) {
	defer conn.Close()

	msg, err := wire.DecodeMessage(conn)
	if err != nil {
		s.log.Warn("decode failed, closing connection", "error", err)
		return
	}

	entry, ok := s.entries[msg.Service]
	if !ok {
		wire.EncodeStatus(conn, wire.NotFound())
		return
	}

	if msg.Command != wire.CommandStatus {
		entry.Handle.Send(msg.Command)

		if st := entry.Handle.Status(); st.Tag == wire.StatusRunning && st.PID != 0 {
			sig := syscall.SIGTERM
			if msg.Command == wire.CommandKill {
				sig = syscall.SIGKILL
			}
			if err := syscall.Kill(int(st.PID), sig); err != nil {
				s.log.Warn("signal delivery failed", "service", msg.Service, "pid", st.PID, "error", err)
			}
		}

		time.Sleep(statusSettleDelay)

		if err := dumpRegistry(s.WorkDir, s.entries); err != nil {
			s.log.Warn("registry dump failed", "error", err)
		}
	}

	wire.EncodeStatus(conn, entry.Handle.Status())
}

// Names returns every known service name, for diagnostics and tests.
func (s *Supervisor) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// String renders the provides index for logging.
func (idx ProvidesIndex) String() string {
	var b strings.Builder
	for tag, names := range idx {
		fmt.Fprintf(&b, "%s=%v ", tag, names)
	}
	return b.String()
}
