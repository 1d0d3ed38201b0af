package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
)

var viewCmd = &cobra.Command{
	Use:   "view <selector>...",
	Short: "Aggregate outputs from several runs into one directory",
	Long: `Builds a directory view from the outputs of the selected runs. Selectors
are run ids, aliases, or artifact ids; an artifact selects the run that
produced it. --select filters output paths with a glob such as "**/*.csv".`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		selectGlob, _ := cmd.Flags().GetString("select")
		dest, _ := cmd.Flags().GetString("dest")
		layout, _ := cmd.Flags().GetString("layout")
		mode, _ := cmd.Flags().GetString("mode")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		jsonMode, _ := cmd.Flags().GetBool("json")

		eng := openEngine(cmd)
		defer eng.Close()

		report, err := eng.View(cmd.Context(), graft.ViewRequest{
			Selectors: args,
			Select:    selectGlob,
			Dest:      dest,
			Layout:    layout,
			Mode:      mode,
			Overwrite: overwrite,
		})
		if err != nil {
			fail(err)
		}

		if jsonMode {
			printJSON(report)
			return
		}
		fmt.Printf("View at %s (%d outputs)\n", report.Dest, len(report.Placements))
		for _, p := range report.Placements {
			fmt.Printf("  %s  <- %s (%s)\n", p.Dest, p.Path, p.RunID.Short())
		}
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().String("select", "", "Glob filter on output paths")
	viewCmd.Flags().String("dest", "view", "View directory root")
	viewCmd.Flags().String("layout", "flat", "Placement layout: flat or by-run")
	viewCmd.Flags().String("mode", "", "Materialize mechanism: symlink, hardlink, or copy")
	viewCmd.Flags().Bool("overwrite", false, "Replace differing destinations")
	viewCmd.Flags().Bool("json", false, "Print the placement report as JSON")
}
