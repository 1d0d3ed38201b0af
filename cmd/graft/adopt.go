package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var adoptCmd = &cobra.Command{
	Use:   "adopt <path>",
	Short: "Snapshot a file or directory into the store",
	Long: `Adopts external content: a file becomes a blob, a directory becomes a tree
that records every file, mode bit, and symlink. Adopting the same content
twice yields the same id and writes nothing new.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		alias, _ := cmd.Flags().GetString("alias")
		jsonMode, _ := cmd.Flags().GetBool("json")

		eng := openEngine(cmd)
		defer eng.Close()

		id, err := eng.Adopt(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if alias != "" {
			if err := eng.SetAlias(cmd.Context(), alias, id.String()); err != nil {
				fail(err)
			}
		}

		if jsonMode {
			printJSON(map[string]any{"id": id, "path": args[0]})
			return
		}
		fmt.Printf("Adopted %s as %s\n", args[0], id)
		if alias != "" {
			fmt.Printf("Alias %q set\n", alias)
		}
	},
}

func init() {
	rootCmd.AddCommand(adoptCmd)

	adoptCmd.Flags().String("alias", "", "Bind this alias to the adopted id")
	adoptCmd.Flags().Bool("json", false, "Print the result as JSON")
}
