// Package main hosts the fragility CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration, wires the run registry, the
// window cache and the metrics textfile into a pipeline.Runner, and renders
// results for the terminal or as JSON. Numeric work lives in the internal
// packages; commands here only resolve inputs and present outputs.
package main
