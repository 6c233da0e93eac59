package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "apigraph",
		Short:         "Explore the configuration graph of a tenant",
		Long:          "apigraph logs in to a tenant, walks its configuration API and reports the entity graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.tenant, "tenant", "", "tenant URL (default $TENANT_URL)")
	rootCmd.PersistentFlags().StringVar(&flags.email, "email", "", "login email (default $APIGRAPH_EMAIL)")
	rootCmd.PersistentFlags().StringVar(&flags.root, "root", "", "configuration collection to start from (default $ROOT_PATH or /project)")
	rootCmd.PersistentFlags().IntVar(&flags.workers, "workers", 0, "concurrent requests (default $FETCH_WORKERS)")
	rootCmd.PersistentFlags().Float64Var(&flags.rps, "rps", -1, "request rate limit, 0 for none (default $FETCH_RPS)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newFetchCmd(), newFilterCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
