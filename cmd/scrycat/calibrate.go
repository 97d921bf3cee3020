package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-cat/internal/service/calibration"
)

// calibrationSummary is the JSON printed after a run.
type calibrationSummary struct {
	ScaleID   uuid.UUID      `json:"scale_id"`
	ContextID uuid.UUID      `json:"context_id,omitempty"`
	Skipped   bool           `json:"skipped"`
	Responses int            `json:"responses"`
	Marked    int64          `json:"marked"`
	Items     map[string]int `json:"items,omitempty"`
	Models    map[string]int `json:"models,omitempty"`
}

func newCalibrateCmd(c *cli) *cobra.Command {
	var (
		scale string
		force bool
		name  string
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate a scale in the foreground and publish the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scaleID, err := uuid.Parse(scale)
			if err != nil {
				return fmt.Errorf("invalid --scale %q: %w", scale, err)
			}
			app, err := newApplication(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			if t := c.cfg.Calibration.Timeout; t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}
			rep, err := app.calibration.Calibrate(ctx, calibration.Request{ScaleID: scaleID, Force: force, Name: name})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summarize(scaleID, rep))
		},
	}
	cmd.Flags().StringVar(&scale, "scale", "", "id of the scale to calibrate")
	cmd.Flags().BoolVar(&force, "force", false, "run even when no new responses arrived")
	cmd.Flags().StringVar(&name, "name", "", "label for the published context")
	_ = cmd.MarkFlagRequired("scale")
	return cmd
}

func summarize(scaleID uuid.UUID, rep *calibration.Report) calibrationSummary {
	out := calibrationSummary{
		ScaleID:   scaleID,
		Skipped:   rep.Skipped,
		Responses: rep.Responses,
		Marked:    rep.Marked,
		Models:    rep.Selected,
	}
	if rep.Context != nil {
		out.ContextID = rep.Context.ID
	}
	if len(rep.Items) > 0 {
		out.Items = make(map[string]int, len(rep.Items))
		for status, n := range rep.Items {
			out.Items[string(status)] = n
		}
	}
	return out
}
