package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/graft/internal/presentation/tui"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect stored run manifests",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show <run-id|alias>",
	Short: "Print a manifest as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		m, err := eng.Manifest(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		printJSON(m)
	},
}

var manifestViewCmd = &cobra.Command{
	Use:   "view <run-id|alias>",
	Short: "Render a manifest for reading",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := openEngine(cmd)
		defer eng.Close()

		m, err := eng.Manifest(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}

		markdown := tui.ManifestMarkdown(m)
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Print(markdown)
			return
		}
		render := tui.NewRenderer()
		out, err := render(markdown)
		if err != nil {
			// Fall back to the raw markdown rather than losing the content.
			fmt.Print(markdown)
			return
		}
		fmt.Print(out)
	},
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestViewCmd)
}
