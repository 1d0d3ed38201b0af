package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize <id|alias> <dest>",
	Short: "Place stored content at a filesystem path",
	Long: `Materializes a blob or tree at dest. Without --mode the cheapest mechanism
wins: symlink, then hardlink, then copy. A destination that already holds the
identical content is left untouched; differing content fails unless
--overwrite is set.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		mode, _ := cmd.Flags().GetString("mode")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		eng := openEngine(cmd)
		defer eng.Close()

		opts := graft.MaterializeOptions{Mode: mode, Overwrite: overwrite}
		if err := eng.Materialize(cmd.Context(), args[0], args[1], opts); err != nil {
			fail(err)
		}
		fmt.Printf("Materialized %s at %s\n", args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(materializeCmd)

	materializeCmd.Flags().String("mode", "", "Force a mechanism: symlink, hardlink, or copy")
	materializeCmd.Flags().Bool("overwrite", false, "Replace a differing destination")
}
