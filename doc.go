/*
Package graft is a content-addressed provenance store for reproducible runs. It
records what produced every artifact (the exact code, parameters, inputs, and
environment) and skips re-execution when an identical run is already committed.

# Concept

Graft treats a computation as a pure-ish function of four things: the
structural hash of its code, its resolved parameters, its input artifacts, and
a summary of the execution environment. Those four hashes form the run id.
Before a step executes, graft derives the id and looks it up; a committed
manifest under that id answers the run from the store without executing
anything. After a fresh execution, outputs are committed as content-addressed
objects and one immutable manifest records the whole story.

Everything lives in an ordinary directory (.graft by default): blobs, trees,
manifests, and alias bindings, each object named by its sha256. Manifests make
lineage queryable: who built this artifact, and what did that run consume, all
the way back to adopted sources.

# Key Features

  - Run identity before execution: byte-identical work is never repeated.
  - Immutable manifests: a committed run record never changes.
  - Structural code hashing: formatting and comments do not change identity.
  - Lineage queries: who-built and full derivation traces, index-accelerated.
  - Materialization: check any artifact out of the store by link or copy.

# Usage

Register steps, then run them through the Engine:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/graft"
		"github.com/aretw0/graft/pkg/params"
		"github.com/aretw0/graft/pkg/step"
	)

	func main() {
		eng, err := graft.New(".graft")
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Close()

		err = eng.Register(step.Definition{
			Name:   "train",
			Source: "steps/train.go",
			Params: []params.Declaration{{Name: "epochs", Default: 3}},
		}, func() step.Interface { return &trainStep{} })
		if err != nil {
			log.Fatal(err)
		}

		res, err := eng.Run(context.Background(), graft.RunRequest{
			Step:   "train",
			Inputs: map[string]string{"data": "@./corpus"},
			Alias:  "model/latest",
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(res.Manifest.RunID, "cached:", res.CacheHit)
	}

Artifacts come back out through Materialize, and provenance questions go
through WhoBuilt and Trace. The graft CLI wraps the same Engine.
*/
package graft
