package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
)

const daemonChildEnvVar = "FEATHERMAIL_DAEMON_CHILD"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the server detached from the controlling terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv(daemonChildEnvVar) == "1" {
			// Already re-exec'd: run the server inline, as the detached child.
			return runServer(cmd)
		}
		return spawnDaemonChild(cmd)
	},
}

// spawnDaemonChild re-execs the current binary with the same arguments,
// marks it as the daemon child via an environment variable, detaches its
// stdio from the parent's terminal, and records its PID in the pidfile.
func spawnDaemonChild(cmd *cobra.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cmd: resolving executable path: %w", err)
	}

	pidfile, _ := cmd.Flags().GetString("pidfile")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("cmd: opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	child := exec.Command(exe, os.Args[1:]...)
	child.Env = append(os.Environ(), daemonChildEnvVar+"=1")
	child.Stdin = devNull
	child.Stdout = devNull
	child.Stderr = devNull
	child.SysProcAttr = detachedSysProcAttr()

	if err := child.Start(); err != nil {
		return fmt.Errorf("cmd: starting daemon child: %w", err)
	}

	if pidfile != "" {
		if err := os.WriteFile(pidfile, []byte(strconv.Itoa(child.Process.Pid)), 0644); err != nil {
			return fmt.Errorf("cmd: writing pidfile %s: %w", pidfile, err)
		}
	}

	// Detach: do not wait on the child, let init/the OS reap it.
	return child.Process.Release()
}
