package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/calibrate/internal/mockdev"
)

var mockdevPort string

var mockdevCmd = &cobra.Command{
	Use:   "mockdev",
	Short: "Run the goggle hardware simulator",
	Long: `Mockdev attaches a protocol simulator to a serial device path (for
example the slave end of a pty created with socat) and logs every level
command the experiment sends, reporting at the end whether the goggles were
left dark.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMockdev()
	},
	SilenceUsage: true,
}

func init() {
	mockdevCmd.Flags().StringVar(&mockdevPort, "port", "", "Device path to read commands from")
	mockdevCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(mockdevCmd)
}

func runMockdev() error {
	f, err := os.Open(mockdevPort)
	if err != nil {
		return fmt.Errorf("open device path %s: %w", mockdevPort, err)
	}

	// Closing the stream unblocks the read loop on Ctrl-C.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Info("stopping mock device")
		f.Close()
	}()

	device := mockdev.New(slog.Default())
	slog.Info("mock goggle device running", "port", mockdevPort)

	runErr := device.Run(f)
	sum := device.Summarize()

	fmt.Printf("commands=%d invalid=%d final_level=%d safe=%v\n",
		sum.Commands, sum.Invalid, sum.Level, sum.EndedSafe)

	if runErr != nil && !errors.Is(runErr, os.ErrClosed) {
		return runErr
	}
	return nil
}
