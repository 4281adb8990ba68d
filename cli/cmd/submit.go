package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/internal/client"
	"github.com/oceanlab/specimen-stack/cli/pkg/output"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a specimen image",
	Long:  "Submit a specimen image to the ingestion gateway for enrichment",
	Example: `  specimenctl submit --file otolith.png
  specimenctl submit --file otolith.png --id survey-2024-0042 --lat 15.3 --lon 73.9`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		id, _ := cmd.Flags().GetString("id")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("image file %s is empty", file)
		}

		req := client.SubmitRequest{
			SpecimenID: id,
			Payload:    base64.StdEncoding.EncodeToString(data),
		}
		latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
		if latSet != lonSet {
			return fmt.Errorf("--lat and --lon must be given together")
		}
		if latSet {
			lat, _ := cmd.Flags().GetFloat64("lat")
			lon, _ := cmd.Flags().GetFloat64("lon")
			req.Latitude, req.Longitude = &lat, &lon
		}

		specimenID, err := gateway().Submit(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}

		if jsonOutput() {
			return output.JSON(map[string]string{"status": "accepted", "specimenId": specimenID})
		}
		output.Success("Specimen %s accepted", specimenID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringP("file", "f", "", "image file to submit")
	submitCmd.Flags().String("id", "", "specimen ID (assigned by the gateway when omitted)")
	submitCmd.Flags().Float64("lat", 0, "collection latitude")
	submitCmd.Flags().Float64("lon", 0, "collection longitude")
	_ = submitCmd.MarkFlagRequired("file")
}
