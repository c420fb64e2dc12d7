package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfoltran/pgcdc/internal/bqsink"
	"github.com/jfoltran/pgcdc/internal/pgsource"
	"github.com/jfoltran/pgcdc/internal/pipeline"
)

var runMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replicate a source publication into the configured BigQuery sink",
	Long: `Run drives a pipeline through its resumption, schema, table-copy, and
CDC phases. --mode selects which phases execute:

  both               table copies followed by CDC streaming (default)
  table-copies-only  stop once every table's initial copy is committed
  cdc-only           skip table copies and stream changes from the sink's
                      last checkpointed LSN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		action, err := parseMode(runMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		source, err := pgsource.Connect(ctx, pgsource.Config{
			DSN:            cfg.Source.DSN(),
			ReplicationDSN: cfg.Source.ReplicationDSN(),
			SlotName:       cfg.Source.SlotName,
			Publication:    cfg.Source.Publication,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect source: %w", err)
		}

		sink, err := bqsink.Connect(ctx, bqsink.Config{
			ProjectID:         cfg.Sink.ProjectID,
			DatasetID:         cfg.Sink.DatasetID,
			ServiceAccountKey: []byte(cfg.Sink.ServiceAccountKey),
		}, logger)
		if err != nil {
			return fmt.Errorf("connect sink: %w", err)
		}

		p := pipeline.New(source, sink, pipeline.Config{Batch: cfg.Batch.ToBatch()}, logger)
		defer p.Close(ctx)

		return p.Run(ctx, action)
	},
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "both", "Phases to run: both, table-copies-only, cdc-only")
	rootCmd.AddCommand(runCmd)
}

func parseMode(mode string) (pipeline.ActionKind, error) {
	switch mode {
	case "", "both":
		return pipeline.Both, nil
	case "table-copies-only":
		return pipeline.TableCopiesOnly, nil
	case "cdc-only":
		return pipeline.CdcOnly, nil
	default:
		return 0, fmt.Errorf("unknown --mode %q (want both, table-copies-only, or cdc-only)", mode)
	}
}
