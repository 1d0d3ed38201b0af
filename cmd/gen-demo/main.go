package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/internal/builtin"
)

// Seeds a small demo store: three adopted chapters, a concat run, and a
// checksum run over the result, all reachable through aliases. Useful for
// poking at the CLI without writing a pipeline first.
func main() {
	targetDir := "demo"
	if len(os.Args) > 1 {
		targetDir = os.Args[1]
	}

	sourcesDir := filepath.Join(targetDir, "sources")
	if err := os.MkdirAll(sourcesDir, 0755); err != nil {
		panic(err)
	}

	fmt.Printf("Generating demo store in: %s\n", targetDir)

	chapters := map[string]string{
		"chapter1.txt": "It began with an adopted file.\n",
		"chapter2.txt": "Every run remembered what it read.\n",
		"chapter3.txt": "Nothing was ever computed twice.\n",
	}
	for name, content := range chapters {
		err := os.WriteFile(filepath.Join(sourcesDir, name), []byte(content), 0644)
		check(err)
	}

	storeDir := filepath.Join(targetDir, ".graft")
	eng, err := graft.New(storeDir)
	check(err)
	defer eng.Close()
	check(builtin.Register(eng.Registry()))

	ctx := context.Background()

	// 1. Adopt the chapters under book/ aliases.
	for i, name := range []string{"chapter1.txt", "chapter2.txt", "chapter3.txt"} {
		id, err := eng.Adopt(ctx, filepath.Join(sourcesDir, name))
		check(err)
		check(eng.SetAlias(ctx, fmt.Sprintf("book/ch%d", i+1), id.String()))
		fmt.Printf("  adopted %s as %s\n", name, id.Short())
	}

	// 2. Concatenate them into a draft.
	draft, err := eng.Run(ctx, graft.RunRequest{
		Step: "concat",
		Inputs: map[string]string{
			"1": "book/ch1",
			"2": "book/ch2",
			"3": "book/ch3",
		},
		Alias: "book/draft",
	})
	check(err)
	fmt.Printf("  concat run %s (cached=%v)\n", draft.Manifest.RunID.Short(), draft.CacheHit)

	// 3. Checksum the draft; its lineage now reaches back to the chapters.
	sums, err := eng.Run(ctx, graft.RunRequest{
		Step:   "checksum",
		Inputs: map[string]string{"draft": "book/draft"},
		Alias:  "book/checksums",
	})
	check(err)
	fmt.Printf("  checksum run %s (cached=%v)\n", sums.Manifest.RunID.Short(), sums.CacheHit)

	g, err := eng.Trace(ctx, "book/checksums")
	check(err)
	fmt.Printf("Done. Lineage behind book/checksums: %d nodes, %d edges.\n", len(g.Nodes), len(g.Edges))
	fmt.Printf("Try: graft --store %s trace book/checksums --mermaid\n", storeDir)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
