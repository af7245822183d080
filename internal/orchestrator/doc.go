// Package orchestrator applies one action to a set of packages.
//
// The orchestrator package provides functionality for:
//   - Sequential runs in the order given, or in private dependency order
//     for ordered actions such as install
//   - Parallel runs on a bounded group, ordered actions starting a package
//     only once its dependencies have finished
//   - Output handling: streamed to the terminal or captured per package
//   - Artifact collection into the run output directory
//   - Progress events for an optional listener
//
// A failing package never stops the run: every package gets exactly one
// result, in input order. Cancelling the context stops the running step
// and leaves the packages not yet started skipped.
//
// Example usage:
//
//	act, _ := action.Default().New("test", action.Options{Tools: cfg.Tools})
//	orch := orchestrator.New(exec.NewRunner(), orchestrator.WithParallel(4))
//	results := orch.Run(ctx, act, pkgs)
package orchestrator
