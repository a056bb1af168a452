package cli

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/model"
)

type urlFlags struct {
	open bool
	copy bool
}

// NewURLCommand creates the "url" cobra command.
func NewURLCommand() *cobra.Command {
	flags := &urlFlags{}

	cmd := &cobra.Command{
		Use:   "url [dir]",
		Short: "Print the viewer URL for a directory",
		Long: `Print the URL of the viewer running for a directory (default: the current
directory). Exits with code 6 when none is running.

Examples:
  logdy-runner url
  logdy-runner url --open
  logdy-runner url ./service --copy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runURL(args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.open, "open", false, "Open the URL in the default browser")
	cmd.Flags().BoolVar(&flags.copy, "copy", false, "Copy the URL to the clipboard")
	return cmd
}

func runURL(args []string, flags *urlFlags) error {
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	info, found, err := client.Lookup(dir)
	if err != nil {
		return err
	}
	if !found {
		return model.NewKindError(model.KindNotFound, fmt.Sprintf("no viewer running for %s", dir), nil)
	}
	url := info.URL()

	if flags.copy {
		if err := clipboard.WriteAll(url); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to copy URL to clipboard", err)
		}
		VerboseLog("Copied %s to clipboard", url)
	}
	if flags.open {
		if err := openURL(url); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to open browser", err)
		}
	}

	if IsJSONOutput() {
		printJSON(map[string]any{"url": url, "port": info.Port, "key": info.Key})
		return nil
	}
	fmt.Println(url)
	return nil
}
