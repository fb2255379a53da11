// Command capsentry-analyze is a thin demonstration of engine's API: load a
// configuration file, analyze one linked output, and map the result to a process exit
// code the way the (out-of-scope) build-system wrapper would. It is not a full CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"capsentry/config"
	"capsentry/engine"
)

func main() {
	cfgPath := flag.String("config", "cackle.toml", "path to the permissions configuration")
	binPath := flag.String("bin", "", "linked binary to analyze")
	flag.Parse()

	if *binPath == "" {
		fmt.Fprintln(os.Stderr, "usage: capsentry-analyze -config cackle.toml -bin ./target/release/app")
		os.Exit(int(engine.ExitConfigError))
	}

	data, err := os.ReadFile(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(engine.ExitConfigError))
	}
	doc, err := config.Parse(*cfgPath, data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(engine.ExitConfigError))
	}
	snap, err := config.BuildSnapshot(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(engine.ExitConfigError))
	}

	e := engine.New(snap, engine.Options{}, nil)
	results, err := e.AnalyzeLinkedOutputs(context.Background(), []engine.LinkOutput{{Path: *binPath}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(engine.ExitInternalError))
	}
	for _, r := range results {
		for _, p := range r.Problems.Problems {
			fmt.Println(p.String())
		}
	}
	os.Exit(int(engine.ExitCodeFor(results)))
}
