// Package workflow is the state-machine execution engine: an ASL
// parser, a JSONPath-subset shaping pipeline, a total choice evaluator,
// and an interpreter with retry/catch, Parallel and Map concurrency,
// and synchronous (express) or background (standard) execution modes.
// Task states reach compute through the registry's invoker capability.
package workflow
