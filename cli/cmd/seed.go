package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/internal/client"
	"github.com/oceanlab/specimen-stack/cli/internal/seeder"
	"github.com/oceanlab/specimen-stack/cli/pkg/output"
)

const seedMaxAttempts = 3

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Submit synthetic specimens",
	Long: `Generate synthetic otolith images (dark ellipses of random size and
orientation) with collection coordinates inside the survey box
(latitude 8-37, longitude 68-97) and submit them to the gateway.`,
	Example: `  specimenctl seed --count 50
  specimenctl seed --count 10 --seed 42 --save-dir ./samples`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetInt64("seed")
		interval, _ := cmd.Flags().GetDuration("interval")
		saveDir, _ := cmd.Flags().GetString("save-dir")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")

		if count < 1 {
			return fmt.Errorf("--count must be positive")
		}
		if saveDir != "" {
			if err := os.MkdirAll(saveDir, 0o755); err != nil {
				return fmt.Errorf("create save dir: %w", err)
			}
		}

		gen := seeder.NewGenerator(seeder.Config{Width: width, Height: height, IDPrefix: "otolith"}, seed)
		gw := gateway()

		accepted, failed := 0, 0
		for i := 0; i < count; i++ {
			s, err := gen.Next()
			if err != nil {
				return err
			}
			if saveDir != "" {
				if err := os.WriteFile(filepath.Join(saveDir, s.ID+".png"), s.Image, 0o644); err != nil {
					return fmt.Errorf("save image: %w", err)
				}
			}

			lat, lon := s.Latitude, s.Longitude
			err = submitWithRetry(cmd.Context(), gw, client.SubmitRequest{
				SpecimenID: s.ID,
				Payload:    s.Payload(),
				Latitude:   &lat,
				Longitude:  &lon,
			})
			if err != nil {
				failed++
				output.Error("%s: %v", s.ID, err)
			} else {
				accepted++
				if !jsonOutput() {
					output.Info("%s accepted (%.4f, %.4f)", s.ID, lat, lon)
				}
			}

			if interval > 0 && i < count-1 {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		}

		if jsonOutput() {
			if err := output.JSON(map[string]int{"accepted": accepted, "failed": failed}); err != nil {
				return err
			}
		} else {
			output.Success("Seeded %d specimens (%d failed)", accepted, failed)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d submissions failed", failed, count)
		}
		return nil
	},
}

func submitWithRetry(ctx context.Context, gw *client.GatewayClient, req client.SubmitRequest) error {
	var err error
	for attempt := 1; attempt <= seedMaxAttempts; attempt++ {
		if _, err = gw.Submit(ctx, req); err == nil {
			return nil
		}
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() || attempt == seedMaxAttempts {
			return err
		}
		wait := time.Duration(max(apiErr.RetryAfter, 1)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntP("count", "n", 10, "number of specimens to submit")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 = random)")
	seedCmd.Flags().Duration("interval", 0, "delay between submissions")
	seedCmd.Flags().String("save-dir", "", "also write generated images to this directory")
	seedCmd.Flags().Int("width", 320, "image width in pixels")
	seedCmd.Flags().Int("height", 240, "image height in pixels")
}
