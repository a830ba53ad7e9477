package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bryanchriswhite/stereocam/internal/device"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List video capture devices",
	Long: `List the /dev/video* nodes and the formats each one can capture.

Devices held open by a running node report an error instead of formats.`,
	Example: `  # List devices in table format (default)
  stereocam devices

  # List devices in JSON format
  stereocam devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	paths, err := device.List()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	infos := make([]device.Info, 0, len(paths))
	for _, p := range paths {
		infos = append(infos, device.Probe(p))
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "table":
		return printDevicesTable(infos)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(infos []device.Info) error {
	if len(infos) == 0 {
		fmt.Println("No video devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DEVICE\tFORMATS\tYUYV SIZES")
	fmt.Fprintln(w, "------\t-------\t----------")

	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(w, "%s\t(%s)\t\n", info.Path, info.Error)
			continue
		}
		sizes := strings.Join(info.Sizes, ", ")
		if sizes == "" {
			sizes = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Path, strings.Join(info.Formats, ", "), sizes)
	}

	return nil
}
