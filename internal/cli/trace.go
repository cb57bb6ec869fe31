package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/runtime"
)

// NewTraceCommand emits the canonical trace bytes for a simulated window,
// the same byte form golden files store. Useful for diffing engine
// behavior across versions.
func NewTraceCommand(opts *RootOptions) *cobra.Command {
	var from, to float64
	var seed uint64

	cmd := &cobra.Command{
		Use:   "trace <project.json>",
		Short: "Print the canonical trace for a simulated window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			p, err := runPipeline(args[0])
			if err != nil {
				_ = f.Failure(err.Error())
				return err
			}

			eng := runtime.New(p.reg, runtime.WithSeed(seed))
			eng.SetGraph(p.compiled.Graph)
			eng.ResetPulses()
			events := eng.QueryWindow(from, to)

			docs := make([]any, len(events))
			for i, ev := range events {
				m := map[string]any{
					"node":  string(ev.Node),
					"tick":  ev.Tick,
					"value": ev.Value,
				}
				if len(ev.Params) > 0 {
					m["params"] = ev.Params
				}
				docs[i] = m
			}
			payload, err := grid.MarshalCanonical(map[string]any{
				"window": []any{from, to},
				"events": docs,
			})
			if err != nil {
				werr := WrapExitError(ExitFailure, "canonical trace", err)
				_ = f.Failure(werr.Error())
				return werr
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		},
	}

	cmd.Flags().Float64Var(&from, "from", 0, "window start tick")
	cmd.Flags().Float64Var(&to, "to", 16, "window end tick (exclusive)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "global RNG seed")
	return cmd
}
