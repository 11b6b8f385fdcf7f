// Package retry classifies publish failures and computes backoff delays.
//
// The policy is an explicit value consulted by the scheduler before each
// re-dispatch, not a wrapper around the publish call.
package retry
