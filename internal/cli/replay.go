package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/oplog"
	"github.com/roach88/pulsegrid/internal/registry"
	"github.com/roach88/pulsegrid/internal/serial"
)

// NewReplayCommand folds an edit log back into a graph and prints it as a
// project document.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <oplog.db>",
		Short: "Rebuild a project from an edit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			store, err := oplog.Open(args[0])
			if err != nil {
				werr := WrapExitError(ExitCommandError, "open op log", err)
				_ = f.Failure(werr.Error())
				return werr
			}
			defer store.Close()

			reg, err := registry.New(registry.Builtin()...)
			if err != nil {
				werr := WrapExitError(ExitFailure, "registry", err)
				_ = f.Failure(werr.Error())
				return werr
			}

			g := model.New(reg)
			if err := store.Replay(cmd.Context(), g); err != nil {
				werr := WrapExitError(ExitFailure, "replay", err)
				_ = f.Failure(werr.Error())
				return werr
			}

			project := &serial.Project{
				SchemaVersion: serial.CurrentSchemaVersion,
				Graph:         g.Snapshot(),
			}
			data, err := serial.Save(project)
			if err != nil {
				werr := WrapExitError(ExitFailure, "serialize project", err)
				_ = f.Failure(werr.Error())
				return werr
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
