package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/pkg/output"
	"github.com/oceanlab/specimen-stack/common/dlq"
	"github.com/oceanlab/specimen-stack/common/logging"
	natsmsg "github.com/oceanlab/specimen-stack/common/messaging/nats"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter stream commands",
	Long:  "Inspect and purge messages the workers rejected as malformed",
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd.Context(), func(q dlq.Queue) error {
			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return output.JSON(stats)
			}

			pairs := [][2]string{
				{"Backend", stats.Backend},
				{"Messages", strconv.FormatUint(stats.Messages, 10)},
				{"Bytes", strconv.FormatUint(stats.Bytes, 10)},
				{"First sequence", strconv.FormatUint(stats.FirstSeq, 10)},
				{"Last sequence", strconv.FormatUint(stats.LastSeq, 10)},
			}
			reasons := make([]string, 0, len(stats.ByReason))
			for r := range stats.ByReason {
				reasons = append(reasons, r)
			}
			sort.Strings(reasons)
			for _, r := range reasons {
				pairs = append(pairs, [2]string{"Reason " + r, strconv.FormatUint(stats.ByReason[r], 10)})
			}
			output.KeyValues(pairs)
			return nil
		})
	},
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withDLQ(cmd.Context(), func(q dlq.Queue) error {
			letters, err := q.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return output.JSON(letters)
			}
			if len(letters) == 0 {
				output.Info("Dead-letter stream is empty")
				return nil
			}
			output.DeadLetters(letters)
			return nil
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead-lettered message",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to purge without --yes")
		}
		return withDLQ(cmd.Context(), func(q dlq.Queue) error {
			if err := q.Purge(cmd.Context()); err != nil {
				return err
			}
			output.Success("Dead-letter stream purged")
			return nil
		})
	},
}

func withDLQ(ctx context.Context, fn func(q dlq.Queue) error) error {
	svc, err := serviceConfig()
	if err != nil {
		return err
	}
	if !svc.DLQ.Enabled {
		return dlq.ErrDisabled
	}

	natsCfg, _ := natsmsg.FromSettings(svc.NATS, "specimenctl", logging.Discard())
	nc, err := natsmsg.Connect(natsCfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	q, err := dlq.NewJetStreamQueue(ctx, js, dlq.StreamConfig{MaxAge: svc.DLQ.MaxAge, MaxMsgs: svc.DLQ.MaxMsgs})
	if err != nil {
		return err
	}
	return fn(q)
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().IntP("limit", "n", 50, "maximum number of messages")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
}
