package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/model"
)

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running viewers",
		Long: `List every viewer the daemon is running, with its directory, port, URL,
log file, process IDs and uptime.

Examples:
  logdy-runner list
  logdy-runner list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
}

func runList() error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	instances, err := client.List()
	if err != nil {
		return err
	}
	VerboseLog("Daemon reports %d instances", len(instances))
	printListResult(instances, time.Now())
	return nil
}

type listResultJSON struct {
	Instances []listInstanceJSON `json:"instances"`
}

type listInstanceJSON struct {
	model.InstanceInfo
	URL           string `json:"url"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func printListResult(instances []model.InstanceInfo, now time.Time) {
	if IsJSONOutput() {
		// Empty slice so that JSON shows [] rather than null.
		result := listResultJSON{Instances: make([]listInstanceJSON, 0, len(instances))}
		for _, inst := range instances {
			result.Instances = append(result.Instances, listInstanceJSON{
				InstanceInfo:  inst,
				URL:           inst.URL(),
				UptimeSeconds: int64(inst.Uptime(now).Seconds()),
			})
		}
		printJSON(result)
		return
	}

	if len(instances) == 0 {
		fmt.Println("No viewers running.")
		return
	}
	fmt.Println(renderTable(
		[]string{"DIRECTORY", "PORT", "URL", "FILE", "PIDS", "UPTIME"},
		listRows(instances, now),
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func listRows(instances []model.InstanceInfo, now time.Time) [][]string {
	rows := make([][]string, 0, len(instances))
	for _, inst := range instances {
		rows = append(rows, []string{
			inst.Key,
			strconv.Itoa(inst.Port),
			inst.URL(),
			inst.LogFile,
			FormatPIDs(inst.ProducerPID, inst.ConsumerPID),
			FormatUptime(inst.Uptime(now)),
		})
	}
	return rows
}

// FormatPIDs renders the producer and consumer PIDs as "tail/viewer".
// Unknown PIDs show as "-".
func FormatPIDs(producer, consumer int) string {
	return pidString(producer) + "/" + pidString(consumer)
}

func pidString(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

// FormatUptime renders a duration compactly.
//
// Example:
//
//	42s     → "42s"
//	3m5s    → "3m05s"
//	26h3m   → "1d02h03m"
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	seconds := int((d - time.Duration(minutes)*time.Minute) / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%02dh%02dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
