package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hen6003/iodine/wire"
	"github.com/stretchr/testify/require"
)

func writeUnit(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func startTestSupervisor(t *testing.T) (*Supervisor, context.CancelFunc) {
	t.Helper()

	workDir := t.TempDir()
	servicesDir := filepath.Join(workDir, "services")
	require.NoError(t, os.Mkdir(servicesDir, 0o755))

	writeUnit(t, servicesDir, "echo.toml", `
[service]
provides = "logger"

[commands.start]
command = "sleep 30"
`)

	s := New(workDir, servicesDir)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	go s.Serve(ctx)

	return s, cancel
}

func dial(t *testing.T, s *Supervisor) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := wire.DialWait(ctx, filepath.Join(s.WorkDir, wire.SockLocation))
	require.NoError(t, err)
	return conn
}

func TestSupervisorStatusRoundTrip(t *testing.T) {
	s, cancel := startTestSupervisor(t)
	defer cancel()

	require.Eventually(t, func() bool {
		conn := dial(t, s)
		defer conn.Close()

		require.NoError(t, wire.EncodeMessage(conn, wire.SockMessage{Service: "echo", Command: wire.CommandStatus}))
		st, err := wire.DecodeStatus(conn)
		require.NoError(t, err)
		return st.Tag == wire.StatusRunning && st.PID != 0
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorUnknownService(t *testing.T) {
	s, cancel := startTestSupervisor(t)
	defer cancel()

	conn := dial(t, s)
	defer conn.Close()

	require.NoError(t, wire.EncodeMessage(conn, wire.SockMessage{Service: "nope", Command: wire.CommandStatus}))
	st, err := wire.DecodeStatus(conn)
	require.NoError(t, err)
	require.Equal(t, wire.StatusNotFound, st.Tag)
}

func TestSupervisorDownStopsChild(t *testing.T) {
	s, cancel := startTestSupervisor(t)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.entries["echo"].Handle.Status().Tag == wire.StatusRunning
	}, time.Second, 10*time.Millisecond)

	conn := dial(t, s)
	require.NoError(t, wire.EncodeMessage(conn, wire.SockMessage{Service: "echo", Command: wire.CommandDown}))
	_, err := wire.DecodeStatus(conn)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return s.entries["echo"].Handle.Status().Tag == wire.StatusDown
	}, time.Second, 10*time.Millisecond)
}

func TestScanUnitsDuplicateName(t *testing.T) {
	workDir := t.TempDir()
	servicesDir := filepath.Join(workDir, "services")
	require.NoError(t, os.Mkdir(servicesDir, 0o755))

	writeUnit(t, servicesDir, "a.toml", `
[service]
name = "dup"

[commands.start]
command = "true"
`)
	writeUnit(t, servicesDir, "b.toml", `
[service]
name = "dup"

[commands.start]
command = "true"
`)

	s := New(workDir, servicesDir)
	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrDuplicateService)
}

func TestStartWritesRegistryFile(t *testing.T) {
	s, cancel := startTestSupervisor(t)
	defer cancel()

	data, err := os.ReadFile(registryFile(s.WorkDir))
	require.NoError(t, err)
	require.Contains(t, string(data), "echo")
	require.Contains(t, string(data), "logger")
}

func TestScanUnitsEmptyDir(t *testing.T) {
	workDir := t.TempDir()
	servicesDir := filepath.Join(workDir, "services")
	require.NoError(t, os.Mkdir(servicesDir, 0o755))

	s := New(workDir, servicesDir)
	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrNoUnitFiles)
}
