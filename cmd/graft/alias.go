package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage human-readable names for store ids",
	Long:  `Set, resolve, and list aliases. An alias is a mutable pointer; rebinding replaces the previous target without history.`,
}

var aliasSetCmd = &cobra.Command{
	Use:   "set <name> <id|alias>",
	Short: "Bind a name to an id",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		if err := eng.SetAlias(cmd.Context(), args[0], args[1]); err != nil {
			fail(err)
		}
		fmt.Printf("Alias %q set\n", args[0])
	},
}

var aliasGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Resolve a name to its id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		id, err := eng.Aliases().GetAlias(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all aliases",
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		aliases, err := eng.Aliases().ListAliases(cmd.Context())
		if err != nil {
			fail(err)
		}
		if len(aliases) == 0 {
			fmt.Println("No aliases set.")
			return
		}
		for _, a := range aliases {
			fmt.Printf("%s -> %s\n", a.Name, a.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(aliasCmd)
	aliasCmd.AddCommand(aliasSetCmd)
	aliasCmd.AddCommand(aliasGetCmd)
	aliasCmd.AddCommand(aliasListCmd)
}
