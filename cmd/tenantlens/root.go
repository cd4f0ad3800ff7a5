package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tenantlens",
	Short:         "Tenantlens produces license and group activity reports for a Microsoft 365 tenant.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var (
	commandPathMu sync.Mutex
	commandPathV  = "tenantlens"
)

func setCommandPath(path string) {
	commandPathMu.Lock()
	defer commandPathMu.Unlock()
	if path = strings.TrimSpace(path); path != "" {
		commandPathV = path
	}
}

func commandPath() string {
	commandPathMu.Lock()
	defer commandPathMu.Unlock()
	return commandPathV
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(licenseReportCmd, groupsReportCmd)
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setCommandPath(cmd.CommandPath())
	}
}
