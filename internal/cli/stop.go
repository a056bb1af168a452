package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/model"
)

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [dir]",
		Short: "Stop the viewer for a directory",
		Long: `Stop the tail and logdy processes serving a directory (default: the
current directory).

Exits with code 6 when no viewer is running there.

Examples:
  logdy-runner stop
  logdy-runner stop ./service --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(args)
		},
	}
}

func runStop(args []string) error {
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	info, err := client.Stop(dir)
	if err != nil {
		return err
	}
	printStopResult(info)
	return nil
}

type stopResultJSON struct {
	Stopped  bool               `json:"stopped"`
	Instance model.InstanceInfo `json:"instance"`
}

func printStopResult(info model.InstanceInfo) {
	if IsJSONOutput() {
		printJSON(stopResultJSON{Stopped: true, Instance: info})
		return
	}
	fmt.Printf("Stopped viewer for %s (port %d)\n", info.Key, info.Port)
}
