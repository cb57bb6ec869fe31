package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/pulsegrid/internal/grid"
)

// compiledEdgeDoc is the command's stable edge projection.
type compiledEdgeDoc struct {
	ID    grid.EdgeID `json:"id"`
	From  string      `json:"from"`
	To    string      `json:"to"`
	Role  grid.Role   `json:"role"`
	Delay float64     `json:"delay"`
}

// compiledNodeDoc is the command's stable node projection.
type compiledNodeDoc struct {
	ID    grid.NodeID `json:"id"`
	Type  string      `json:"type"`
	Param int         `json:"param"`
}

// NewCompileCommand prints the flattened compiled graph.
func NewCompileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <project.json>",
		Short: "Compile a project and print the flattened runtime graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			p, err := runPipeline(args[0])
			if err != nil {
				_ = f.Failure(err.Error())
				return err
			}

			g := p.compiled.Graph
			nodes := make([]compiledNodeDoc, len(g.Nodes))
			for i, n := range g.Nodes {
				nodes[i] = compiledNodeDoc{ID: n.ID, Type: n.Type, Param: n.Param}
			}
			edges := make([]compiledEdgeDoc, len(g.Edges))
			for i, e := range g.Edges {
				edges[i] = compiledEdgeDoc{
					ID:    e.ID,
					From:  e.From.String(),
					To:    e.To.String(),
					Role:  e.Role,
					Delay: e.Delay,
				}
			}
			return f.Success(map[string]any{"nodes": nodes, "edges": edges})
		},
	}
}
