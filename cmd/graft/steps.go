package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/internal/builtin"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List runnable steps and their declared parameters",
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		names := eng.Registry().Names()
		if len(names) == 0 {
			fmt.Println("No steps registered.")
			return
		}

		fmt.Println("Registered steps:")
		for _, name := range names {
			def, _, err := eng.Registry().Lookup(name)
			if err != nil {
				fail(err)
			}
			fmt.Println("- " + name)
			for _, p := range def.Params {
				if p.Required {
					fmt.Printf("    %s (required)\n", p.Name)
				} else {
					fmt.Printf("    %s (default %#v)\n", p.Name, p.Default)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(stepsCmd)
}

// registerBuiltins installs the utility steps every graft binary ships with.
func registerBuiltins(eng *graft.Engine) error {
	return builtin.Register(eng.Registry())
}
