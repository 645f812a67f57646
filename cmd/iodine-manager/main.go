// Program iodine-manager is the control client: it sends one
// SockMessage request to the supervisor's control socket and prints
// the decoded reply.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hen6003/iodine/logging"
	"github.com/hen6003/iodine/wire"
)

var sockPath string

func main() {
	logging.Init()

	rootCmd := &cobra.Command{
		Use:   "iodine-manager",
		Short: "Control client for the iodine supervisor",
	}
	rootCmd.PersistentFlags().StringVar(&sockPath, "sock", wire.SockLocation, "path to the supervisor's control socket")

	for _, word := range []string{"down", "kill", "up", "restart", "status"} {
		rootCmd.AddCommand(newVerbCommand(word))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVerbCommand(word string) *cobra.Command {
	return &cobra.Command{
		Use:   word + " <service>",
		Short: fmt.Sprintf("Send %q to a service", word),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(word, args[0])
		},
	}
}

func sendCommand(word, service string) error {
	cmd, err := wire.ParseCommand(word)
	if err != nil {
		return err
	}

	path := sockPath
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err == nil {
			path = filepath.Join(wd, path)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := wire.DialWait(ctx, path)
	if err != nil {
		return fmt.Errorf("iodine-manager: connecting to %s: %w", path, err)
	}
	defer conn.Close()

	if err := wire.EncodeMessage(conn, wire.SockMessage{Service: service, Command: cmd}); err != nil {
		return fmt.Errorf("iodine-manager: sending request: %w", err)
	}

	status, err := wire.DecodeStatus(conn)
	if err != nil {
		return fmt.Errorf("iodine-manager: reading response: %w", err)
	}

	fmt.Printf("%s: %s\n", service, status)
	return nil
}
