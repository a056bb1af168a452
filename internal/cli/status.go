package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the daemon is running, its PID, socket, configured port
range and number of viewers. Exits with code 3 when no daemon is reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	status, err := client.Status()
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		printJSON(status)
		return nil
	}

	printWarnings(status.Warnings)
	fmt.Printf("Daemon running (pid %d, version %s)\n", status.PID, status.Version)
	fmt.Printf("  Socket:     %s\n", status.Socket)
	fmt.Printf("  Config:     %s\n", orDash(status.ConfigFile))
	fmt.Printf("  Port range: %s\n", status.PortRange)
	fmt.Printf("  Viewers:    %d\n", status.Instances)
	fmt.Printf("  Uptime:     %s\n", FormatUptime(time.Since(status.StartedAt)))
	if status.MetricsURL != "" {
		fmt.Printf("  Metrics:    %s\n", status.MetricsURL)
	}
	return nil
}

// NewShutdownCommand creates the "shutdown" cobra command.
func NewShutdownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop every viewer and exit the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.Shutdown(); err != nil {
				return err
			}
			if IsJSONOutput() {
				printJSON(map[string]bool{"accepted": true})
				return nil
			}
			fmt.Println("Daemon shutting down.")
			return nil
		},
	}
}
