package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/model"
)

// NewConfigCommand creates the "config" cobra command and its subcommands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change settings",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetRangeCommand())
	cmd.AddCommand(newConfigPathCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [dir]",
		Short: "Print the effective settings for a directory",
		Long: `Print the settings a start in the directory would use: defaults, the user
config file and the directory's .vscode/settings.json, after validation.
Repairs made during validation are listed as warnings.

Examples:
  logdy-runner config show
  logdy-runner config show ./service --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(args)
		},
	}
}

type configShowJSON struct {
	Settings config.Settings `json:"settings"`
	Sources  config.Sources  `json:"sources"`
	Warnings []string        `json:"warnings"`
}

func runConfigShow(args []string) error {
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}
	s, src, err := loadSettings(dir)
	if err != nil {
		return err
	}
	warnings, err := s.Validate()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		if warnings == nil {
			warnings = []string{}
		}
		printJSON(configShowJSON{Settings: s, Sources: src, Warnings: warnings})
		return nil
	}

	printWarnings(warnings)
	fmt.Printf("# user file:      %s\n", orDash(src.UserFile))
	fmt.Printf("# workspace file: %s\n", orDash(src.WorkspaceFile))
	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func newConfigSetRangeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-range START END",
		Short: "Set the port range in the user config file",
		Long: `Write portRange to the user config file. Both ports must lie in
1024-65535 and END must be greater than START. A running daemon picks the
new range up for its next start.

Examples:
  logdy-runner config set-range 12000 12099`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSetRange(args)
		},
	}
}

func runConfigSetRange(args []string) error {
	// Step 1: Parse and validate.
	start, err := strconv.Atoi(args[0])
	if err != nil {
		return model.NewKindError(model.KindInvalidConfig, fmt.Sprintf("start port %q is not a number", args[0]), nil)
	}
	end, err := strconv.Atoi(args[1])
	if err != nil {
		return model.NewKindError(model.KindInvalidConfig, fmt.Sprintf("end port %q is not a number", args[1]), nil)
	}
	r := model.PortRange{Start: start, End: end}
	if err := config.ValidateNewRange(r); err != nil {
		return err
	}

	// Step 2: Write the user file.
	path, err := loader().ResolveUserFile()
	if err != nil {
		return err
	}
	if err := config.SavePortRange(path, r); err != nil {
		return err
	}
	VerboseLog("Wrote portRange %s to %s", r, path)

	if IsJSONOutput() {
		printJSON(map[string]any{"portRange": r, "file": path})
		return nil
	}
	fmt.Printf("Port range set to %s in %s\n", r, path)
	return nil
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := loader().ResolveUserFile()
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				printJSON(map[string]string{"file": path})
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
