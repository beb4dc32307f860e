// Package folded encodes pprof profiles in the folded stack format accepted
// by the ingestion service.
//
// Each distinct stack becomes one line, frames ordered from the root to the
// leaf and separated by semicolons, followed by a space and the sample count:
//
//	main.main;main.work;main.fib 42
//
// Lines are sorted so that encoding the same profile always yields the same
// bytes.
package folded
