package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/ipc"
	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// NewPortsCommand creates the "ports" cobra command.
func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Show which ports in the configured range are in use",
		Long: `Probe every port in the configured range and report the bound ones with
their owner: a viewer of this daemon, a Docker container publishing the
port, or unknown.

Without a running daemon the range is probed locally and only Docker
owners can be named.

Examples:
  logdy-runner ports
  logdy-runner ports --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPorts(cmd.Context())
		},
	}
}

func runPorts(ctx context.Context) error {
	resp, err := portsFromDaemon()
	if err != nil {
		VerboseLog("Daemon unavailable (%v); probing locally", err)
		resp, err = portsLocally(ctx)
		if err != nil {
			return err
		}
	}
	printPortsResult(resp)
	return nil
}

func portsFromDaemon() (*ipc.PortsResponse, error) {
	client, err := dialDaemon()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()
	return client.Ports()
}

func portsLocally(ctx context.Context) (*ipc.PortsResponse, error) {
	settings, _, err := loadSettings("")
	if err != nil {
		return nil, err
	}
	r, warnings, err := runner.New(runner.Options{Settings: settings, Logger: logging.NewNop()})
	if err != nil {
		return nil, err
	}
	printWarnings(warnings)

	var owners runner.OwnerLookup
	if dc := dockerOwners(ctx, logging.NewNop()); dc != nil {
		defer func() { _ = dc.Close() }()
		owners = dc
	}
	rng, used := r.PortUsage(ctx, owners)
	return &ipc.PortsResponse{Range: rng, Used: used}, nil
}

type portsResultJSON struct {
	Range model.PortRange  `json:"range"`
	Free  int              `json:"free"`
	Used  []runner.PortUse `json:"used"`
}

func printPortsResult(resp *ipc.PortsResponse) {
	free := resp.Range.Size() - len(resp.Used)
	if IsJSONOutput() {
		used := resp.Used
		if used == nil {
			used = []runner.PortUse{}
		}
		printJSON(portsResultJSON{Range: resp.Range, Free: free, Used: used})
		return
	}

	fmt.Printf("Range %s: %d free, %d in use\n", resp.Range, free, len(resp.Used))
	if len(resp.Used) == 0 {
		return
	}
	rows := make([][]string, 0, len(resp.Used))
	for _, u := range resp.Used {
		owner := u.Owner
		if owner == "" {
			owner = "-"
		}
		rows = append(rows, []string{strconv.Itoa(u.Port), u.Source, owner})
	}
	fmt.Println(renderTable([]string{"PORT", "SOURCE", "OWNER"}, rows, []columnAlignment{alignRight}))
}
