// Package post defines the schedulable publish request (Item), its content
// payload, and the per-target progress states.
//
// Items are created on enqueue and mutated only under the queue's lock; the
// overall item state is derived from the per-target sub-statuses once every
// target has resolved.
package post
