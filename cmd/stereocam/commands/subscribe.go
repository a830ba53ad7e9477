package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/bryanchriswhite/stereocam/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Receive images from a running node",
	Long: `Subscribe to one image stream and log every image received.

The stereo stream delivers the left image of each pair followed by the
right one; the command checks that both carry the same sequence number.`,
	Example: `  # Log stereo pairs until interrupted
  stereocam subscribe

  # Log ten left images
  stereocam subscribe --stream left --count 10`,
	RunE: runSubscribe,
}

var (
	subscribeStream string
	subscribeCount  int
)

var errEnough = errors.New("enough images")

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().StringVarP(&subscribeStream, "stream", "s", string(output.StreamStereo), "stream to receive (left, right or stereo)")
	subscribeCmd.Flags().IntVarP(&subscribeCount, "count", "n", 0, "stop after this many images (0 = until interrupted)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	stream, err := output.ParseStream(subscribeStream)
	if err != nil {
		return err
	}
	c, err := nodeClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// received images are this command's output
	if viper.GetString("log_level") == "" {
		logger.Init(string(logger.InfoLevel), true)
	}
	log := logger.WithComponent("subscribe")

	var (
		received int
		pending  *output.Image // left image waiting for its right twin
	)
	err = c.Subscribe(ctx, stream, func(img output.Image) error {
		received++
		log.Info().
			Str("stream", string(img.Stream)).
			Uint64("sequence", img.Sequence).
			Uint32("width", img.Width).
			Uint32("height", img.Height).
			Str("encoding", string(img.Encoding)).
			Int("bytes", len(img.Data)).
			Msgf("Received %s image", img.Stream)

		if stream == output.StreamStereo {
			switch img.Stream {
			case output.StreamLeft:
				pending = &img
			case output.StreamRight:
				if pending == nil || pending.Sequence != img.Sequence {
					return fmt.Errorf("right image %d arrived without its left image", img.Sequence)
				}
				pending = nil
			}
		}

		if subscribeCount > 0 && received >= subscribeCount && pending == nil {
			return errEnough
		}
		return nil
	})

	switch {
	case errors.Is(err, errEnough), errors.Is(err, context.Canceled):
		fmt.Printf("Received %d images\n", received)
		return nil
	default:
		return err
	}
}
