package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
)

var runCmd = &cobra.Command{
	Use:   "run <step>",
	Short: "Execute a step, or answer it from the store",
	Long: `Runs a registered step against the store. The run identity is derived from
the step's code, its inputs, parameters, and environment; when an identical
run is already committed the stored result is returned without executing.

Input specs accept "@path" to adopt a file or directory on the fly,
"alias:name" or a bare alias name, and typed ids such as
"blob:sha256:<hex>" or "tree:sha256:<hex>".`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inputSpecs, _ := cmd.Flags().GetStringArray("input")
		paramSpecs, _ := cmd.Flags().GetStringArray("param")
		configPath, _ := cmd.Flags().GetString("config")
		alias, _ := cmd.Flags().GetString("alias")
		force, _ := cmd.Flags().GetBool("force")
		keepWorkdir, _ := cmd.Flags().GetBool("keep-workdir")
		captureModules, _ := cmd.Flags().GetBool("capture-modules")
		jsonMode, _ := cmd.Flags().GetBool("json")

		inputs, err := splitPairs(inputSpecs, "--input")
		if err != nil {
			fail(err)
		}
		params, err := splitPairs(paramSpecs, "--param")
		if err != nil {
			fail(err)
		}

		eng := openEngine(cmd)
		defer eng.Close()

		res, err := eng.Run(cmd.Context(), graft.RunRequest{
			Step:           args[0],
			Inputs:         inputs,
			Params:         params,
			ConfigPath:     configPath,
			Alias:          alias,
			Force:          force,
			KeepWorkdir:    keepWorkdir,
			CaptureModules: captureModules,
		})
		if err != nil {
			fail(err)
		}

		if jsonMode {
			printJSON(map[string]any{
				"run_id":    res.Manifest.RunID,
				"cache_hit": res.CacheHit,
				"manifest":  res.Manifest,
			})
			return
		}

		status := "executed"
		if res.CacheHit {
			status = "cached"
		}
		fmt.Printf("Run %s (%s)\n", res.Manifest.RunID, status)
		for _, out := range res.Manifest.Outputs {
			fmt.Printf("  %s  %s\n", out.ID, out.Path)
		}
		if alias != "" {
			fmt.Printf("Alias %q set\n", alias)
		}
		if keepWorkdir && res.Workdir != "" {
			fmt.Printf("Workdir kept at %s\n", res.Workdir)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayP("input", "i", nil, "Bind an input: name=SPEC (repeatable)")
	runCmd.Flags().StringArrayP("param", "p", nil, "Set a parameter: key=value (repeatable)")
	runCmd.Flags().String("config", "", "YAML or JSON file with parameter values")
	runCmd.Flags().String("alias", "", "Bind this alias to the run's output")
	runCmd.Flags().Bool("force", false, "Execute even when an identical run is stored")
	runCmd.Flags().Bool("keep-workdir", false, "Keep the staging directory for debugging")
	runCmd.Flags().Bool("capture-modules", false, "Record the binary's module list in the manifest")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
}

// splitPairs turns repeated key=value flags into a map, rejecting entries
// without an equals sign.
func splitPairs(specs []string, flag string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		key, value, ok := strings.Cut(spec, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%s %q: expected key=value", flag, spec)
		}
		out[key] = value
	}
	return out, nil
}
