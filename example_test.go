package graft_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/pkg/step"
)

// greetStep writes a fixed greeting as its only output.
type greetStep struct{}

func (greetStep) Load(rc *step.RunContext) error { return nil }
func (greetStep) Core(rc *step.RunContext) error { return nil }

func (greetStep) Save(rc *step.RunContext) error {
	out, err := rc.OutputPath("greeting.txt")
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte("hello\n"), 0o644)
}

// ExampleNew runs one step twice and shows the second invocation being
// answered from the store instead of executing.
func ExampleNew() {
	dir, err := os.MkdirTemp("", "graft-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// 1. A step is identified by the structural hash of its source file.
	src := filepath.Join(dir, "greet.go")
	source := "package steps\n\nfunc greeting() string {\n\treturn \"hello\"\n}\n"
	if err := os.WriteFile(src, []byte(source), 0o644); err != nil {
		log.Fatal(err)
	}

	// 2. Open a store and register the step.
	eng, err := graft.New(filepath.Join(dir, ".graft"))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	err = eng.Register(step.Definition{Name: "greet", Source: src},
		func() step.Interface { return greetStep{} })
	if err != nil {
		log.Fatal(err)
	}

	// 3. Run it twice. The identity (code, params, inputs, environment) is
	// unchanged, so the second run is a cache hit.
	ctx := context.Background()
	first, err := eng.Run(ctx, graft.RunRequest{Step: "greet", Alias: "hello/latest"})
	if err != nil {
		log.Fatal(err)
	}
	second, err := eng.Run(ctx, graft.RunRequest{Step: "greet"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("first cached:", first.CacheHit)
	fmt.Println("second cached:", second.CacheHit)

	// 4. The alias bound above answers provenance questions.
	m, err := eng.WhoBuilt(ctx, "hello/latest")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("produced by:", m.Step.Name)

	// Output:
	// first cached: false
	// second cached: true
	// produced by: greet
}
