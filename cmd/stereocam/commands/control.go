package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const requestTimeout = 15 * time.Second

var activeCmd = &cobra.Command{
	Use:   "active on|off",
	Short: "Turn capture on or off",
	Long: `Ask a running node to start or stop capturing. The request only records
the wish; the acquisition loop opens or releases the cameras on its next
iteration.`,
	Example: `  stereocam active on
  stereocam active off --port 9090`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runActive,
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Reconfigure the camera pair",
	Long: `Reopen both cameras with new devices, resolution or frame rate.
Unset flags keep the node's current value. The command returns once the
cameras are reopened or the request failed.`,
	Example: `  # Switch to VGA
  stereocam params --width 640 --height 480

  # Swap the cameras
  stereocam params --left /dev/video0 --right /dev/video1`,
	RunE: runParams,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node status",
	Long:  `Show activation, camera configuration and stream statistics of a running node.`,
	RunE:  runStatus,
}

var (
	paramsLeft   string
	paramsRight  string
	paramsWidth  uint32
	paramsHeight uint32
	paramsFPS    uint32
	statusFormat string
)

func init() {
	rootCmd.AddCommand(activeCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(statusCmd)

	paramsCmd.Flags().StringVar(&paramsLeft, "left", "", "left camera device")
	paramsCmd.Flags().StringVar(&paramsRight, "right", "", "right camera device")
	paramsCmd.Flags().Uint32Var(&paramsWidth, "width", 0, "image width")
	paramsCmd.Flags().Uint32Var(&paramsHeight, "height", 0, "image height")
	paramsCmd.Flags().Uint32Var(&paramsFPS, "fps", 0, "frame rate")

	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "yaml", "output format (yaml or json)")
}

// nodeClient resolves the node address from --host and --port, falling
// back to the port in the config file
func nodeClient() (*client.Client, error) {
	port := viper.GetInt("server_port")
	if port <= 0 {
		configMgr, err := loadConfig()
		if err != nil {
			return nil, err
		}
		port = configMgr.Get().ServerPort
	}
	return client.New(fmt.Sprintf("http://%s:%d", viper.GetString("host"), port)), nil
}

func runActive(cmd *cobra.Command, args []string) error {
	var active bool
	switch args[0] {
	case "on", "true", "1":
		active = true
	case "off", "false", "0":
	default:
		return fmt.Errorf("invalid argument: %s (use on or off)", args[0])
	}

	c, err := nodeClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := c.SetActive(ctx, active); err != nil {
		return err
	}
	fmt.Printf("✅ Capture %s requested\n", args[0])
	return nil
}

func runParams(cmd *cobra.Command, args []string) error {
	c, err := nodeClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return err
	}

	cfg := status.Current
	flags := cmd.Flags()
	if flags.Changed("left") {
		cfg.LeftDevice = paramsLeft
	}
	if flags.Changed("right") {
		cfg.RightDevice = paramsRight
	}
	if flags.Changed("width") {
		cfg.Width = paramsWidth
	}
	if flags.Changed("height") {
		cfg.Height = paramsHeight
	}
	if flags.Changed("fps") {
		cfg.FPS = paramsFPS
	}

	if err := c.SetParams(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("✅ Cameras reconfigured: %s\n", cfg)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := nodeClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return err
	}

	switch statusFormat {
	case "json":
		return printFormatted("json", status)
	case "yaml":
		// the status types only carry json tags
		raw, err := json.Marshal(status)
		if err != nil {
			return err
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		return printFormatted("yaml", generic)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", statusFormat)
	}
}
