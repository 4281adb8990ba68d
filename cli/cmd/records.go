package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/pkg/output"
	"github.com/oceanlab/specimen-stack/common/models"
)

var getCmd = &cobra.Command{
	Use:   "get <specimen-id>",
	Short: "Show one specimen record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := gateway().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput() {
			return output.JSON(rec)
		}
		output.Records([]*models.SpecimenRecord{rec})
		if !rec.HasMorphometrics() {
			output.Warn("Morphometrics not yet available")
		}
		if !rec.HasClassification() {
			output.Warn("Classification not yet available")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently updated specimen records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 {
			return fmt.Errorf("--limit must be positive")
		}

		records, err := gateway().List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return output.JSON(records)
		}
		if len(records) == 0 {
			output.Info("No specimen records")
			return nil
		}
		output.Records(records)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntP("limit", "n", 20, "maximum number of records")
}
