package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/internal/adapters/sqlite"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the lineage index",
	Long: `The lineage index is a derived accelerator for who-built queries. It can
be dropped and rebuilt from the stored manifests at any time; answers are
always re-verified against the store, so a stale index is slow, not wrong.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from stored manifests",
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		idx := sqliteIndex(eng)
		stats, err := idx.Rebuild(cmd.Context(), eng.Store())
		if err != nil {
			fail(err)
		}
		fmt.Printf("Indexed %d runs (%d outputs)\n", stats.Runs, stats.Outputs)
		if stats.Skipped > 0 {
			fmt.Printf("Skipped %d unreadable manifests\n", stats.Skipped)
		}
	},
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the index against stored manifests",
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		idx := sqliteIndex(eng)
		stats, err := idx.Verify(cmd.Context(), eng.Store())
		if err != nil {
			fail(err)
		}
		fmt.Printf("Checked %d index rows: %d stale, %d committed outputs missing\n",
			stats.Rows, stats.Stale, stats.Missing)
		if stats.Missing > 0 || stats.Stale > 0 {
			fmt.Println("Run 'graft index rebuild' to repair.")
		}
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexVerifyCmd)
}

// sqliteIndex returns the engine's index as the concrete SQLite type, which
// carries the rebuild and verify operations.
func sqliteIndex(eng *graft.Engine) *sqlite.Index {
	idx, ok := eng.Index().(*sqlite.Index)
	if !ok {
		fail(fmt.Errorf("this store has no rebuildable index"))
	}
	return idx
}
