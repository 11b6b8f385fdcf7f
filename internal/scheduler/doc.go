// Package scheduler is the coordinating engine: it drains due items from the
// post queue, consults the rate windows, session cache, and retry policy, and
// dispatches publishes through a bounded worker pool.
//
// Decision-making (queue pops, rate checks, state transitions) is serialized
// in a single loop; only the external publish/login calls run concurrently.
// Workers report completions back over a results channel, never by mutating
// item state themselves.
//
// Each target admits one dispatch at a time: an in-flight gate holds the
// target from the rate-cap check until its result records the dispatch, so
// the check and the record form one atomic step. Items sharing a target
// therefore dispatch across successive drain ticks rather than within one;
// different targets overlap up to the worker-pool bound.
package scheduler
