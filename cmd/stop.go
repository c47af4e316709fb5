package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a server previously started with `daemon`",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pidfile, _ := cmd.Flags().GetString("pidfile")
		return stopDaemon(pidfile)
	},
}

func stopDaemon(pidfile string) error {
	raw, err := os.ReadFile(pidfile)
	if err != nil {
		return fmt.Errorf("cmd: reading pidfile %s: %w", pidfile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("cmd: parsing pid from %s: %w", pidfile, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("cmd: finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("cmd: signalling process %d: %w", pid, err)
	}

	_ = os.Remove(pidfile)
	return nil
}
