// Package cmd contains the CLI wiring for the feathermail server binary.
package cmd

import (
	"github.com/spf13/cobra"

	"feathermail/config"
)

var rootCmd = &cobra.Command{
	Use:   "feathermail",
	Short: "FeatherMail SMTP server framework",
	Long:  "FeatherMail runs a configurable, pipeline-driven SMTP server framework.",
}

// RegisterFlags registers persistent flags shared by every subcommand and
// attaches the start/daemon/stop subcommands to the root. This replaces an
// init() function so callers control ordering, mirroring the teacher's own
// RegisterFlags entry point.
func RegisterFlags() {
	pf := rootCmd.PersistentFlags()
	pf.IntP("port", "p", config.DefaultPort, "Port to listen on")
	pf.StringP("config", "c", "", "Server config file path (default: <config dir>/server.yaml)")
	pf.String("address", "", "Address to bind")
	pf.String("domain", "", "Domain advertised in the greeting and HELO/EHLO responses")
	pf.String("pidfile", "/var/run/feathermail.pid", "Pidfile path used by daemon/stop")

	rootCmd.AddCommand(startCmd, daemonCmd, stopCmd)
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}
