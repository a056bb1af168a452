package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/ipc"
)

// NewToggleCommand creates the "toggle" cobra command.
func NewToggleCommand() *cobra.Command {
	flags := &startFlags{}

	cmd := &cobra.Command{
		Use:   "toggle [dir]",
		Short: "Stop the viewer if it runs, start it otherwise",
		Long: `Toggle the viewer for a directory: stop it when it is running, start it
when it is not. Handy as a single editor key binding.

Examples:
  logdy-runner toggle
  logdy-runner toggle ./service --file logs/app.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToggle(cmd.Context(), args, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Log file to stream when starting")
	cmd.Flags().BoolVar(&flags.noBrowser, "no-browser", false, "Do not open the browser when starting")
	return cmd
}

func runToggle(_ context.Context, args []string, flags *startFlags) error {
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	_, running, err := client.Lookup(dir)
	if err != nil {
		return err
	}
	if running {
		VerboseLog("Viewer running for %s; stopping", dir)
		info, err := client.Stop(dir)
		if err != nil {
			return err
		}
		printStopResult(info)
		return nil
	}

	VerboseLog("No viewer for %s; starting", dir)
	result, err := client.Start(ipc.StartRequest{Dir: dir, File: flags.file})
	if err != nil {
		return err
	}
	printStartResult(result)
	maybeOpenBrowser(dir, result, flags.noBrowser)
	return nil
}
