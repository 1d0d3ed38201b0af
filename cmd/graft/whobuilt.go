package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoBuiltCmd = &cobra.Command{
	Use:   "who-built <id|alias>",
	Short: "Show the run that produced an artifact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonMode, _ := cmd.Flags().GetBool("json")

		eng := openEngine(cmd)
		defer eng.Close()

		m, err := eng.WhoBuilt(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}

		if jsonMode {
			printJSON(m)
			return
		}
		fmt.Printf("Produced by run %s\n", m.RunID)
		fmt.Printf("  Step:  %s (%s)\n", m.Step.Name, m.Step.Source)
		fmt.Printf("  Ended: %s\n", m.EndedUTC)
		for _, in := range m.Inputs {
			fmt.Printf("  Input: %s = %s\n", in.Name, in.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(whoBuiltCmd)

	whoBuiltCmd.Flags().Bool("json", false, "Print the full manifest as JSON")
}
