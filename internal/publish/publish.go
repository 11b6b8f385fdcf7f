// Package publish defines the per-target publish capability consumed by the
// scheduler: login produces an opaque session handle, publish posts content
// with it.
//
// Implementations must enforce bounded timeouts on their own network calls;
// the scheduler treats a timeout as a transient failure and retries with
// backoff.
package publish

import (
	"context"
	"time"
)

// Credentials are whatever the target needs to authenticate. Unused fields
// stay empty.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Request carries the rendered content for one (item, target) dispatch.
type Request struct {
	ItemID    string
	Target    string
	Text      string
	ImagePath string
	VideoPath string
}

// Receipt identifies a successful publish on the remote side.
type Receipt struct {
	Ref      string
	PostedAt time.Time
}

// Publisher is the external publish capability for one target.
//
// Login errors should be classifiable (return *retry.Error where the failure
// class is known). The handle returned by Login is cached by the scheduler
// and passed back to Publish until it expires.
type Publisher interface {
	Login(ctx context.Context, creds Credentials) (handle any, err error)
	Publish(ctx context.Context, handle any, req Request) (Receipt, error)
}
