package cli

import (
	"github.com/spf13/cobra"
)

// NewValidateCommand checks a project file end to end: parse, model
// validation, routing, and build.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project.json>",
		Short: "Validate a project file through model, routing, and build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			p, err := runPipeline(args[0])
			if err != nil {
				_ = f.Failure(err.Error())
				return err
			}

			summary := map[string]any{
				"nodes":    len(p.compiled.Graph.Nodes),
				"edges":    len(p.compiled.Graph.Edges),
				"groups":   len(p.compiled.Graph.Groups),
				"warnings": p.warnings,
			}
			if opts.Format == "json" {
				return f.Success(summary)
			}
			return f.Successf("ok: %d nodes, %d edges, %d groups flattened",
				len(p.compiled.Graph.Nodes), len(p.compiled.Graph.Edges), len(p.compiled.Graph.Groups))
		},
	}
}
