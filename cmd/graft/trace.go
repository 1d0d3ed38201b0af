package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/internal/presentation/graph"
)

var traceCmd = &cobra.Command{
	Use:   "trace <id|alias>",
	Short: "Walk an artifact or run back to its adopted sources",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mermaid, _ := cmd.Flags().GetBool("mermaid")
		jsonMode, _ := cmd.Flags().GetBool("json")

		eng := openEngine(cmd)
		defer eng.Close()

		g, err := eng.Trace(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}

		switch {
		case jsonMode:
			printJSON(g)
		case mermaid:
			fmt.Print(graph.GenerateMermaid(g))
		default:
			printTrace(g)
		}
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)

	traceCmd.Flags().Bool("mermaid", false, "Emit the graph as a Mermaid diagram")
	traceCmd.Flags().Bool("json", false, "Emit the graph as JSON")
}

func printTrace(g *lineage.Graph) {
	fmt.Printf("Trace of %s (%d nodes, %d edges)\n\n", g.Root, len(g.Nodes), len(g.Edges))
	for _, n := range g.Nodes {
		switch {
		case n.Kind == lineage.NodeRun:
			fmt.Printf("  run      %s  step=%s\n", n.ID.Short(), n.Step)
		case n.Source:
			fmt.Printf("  source   %s:%s\n", n.ID.Kind, n.ID.Short())
		default:
			fmt.Printf("  artifact %s:%s\n", n.ID.Kind, n.ID.Short())
		}
	}
	if sources := lineage.Sources(g); len(sources) > 0 {
		fmt.Println("\nAdopted sources:")
		for _, id := range sources {
			fmt.Println("  - " + id.String())
		}
	}
}
