// Package driver defines the contract a platform integration implements to
// join the bridge, and the registry drivers self-register into at package
// init time.
package driver

import (
	"context"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/store"
)

// Driver is one running instance of a platform integration. A driver is
// constructed from its validated config and a reference to the shared
// Router, then started once and run until its context is canceled.
type Driver interface {
	// Start connects to the platform and begins the receive loop; it
	// blocks until ctx is canceled or an unrecoverable error occurs, in
	// which case it returns that error (a context cancellation is not
	// itself reported as an error). Before accepting outbound deliveries
	// it must call Router.RegisterSender(instanceID, send) — doing so
	// before the connection finishes is acceptable only if send tolerates
	// being called early (buffering or dropping gracefully). Start is
	// responsible for automatic reconnect on transient failures; it
	// returns only on cancellation or an unrecoverable error.
	Start(ctx context.Context) error
}

// Constructor builds a Driver instance from its already-validated,
// driver-specific config, its instance ID (used in logging and sender
// registration), and the shared router it registers its sender with and
// forwards inbound messages to.
type Constructor func(instanceID string, config any, router *bridge.Router) (Driver, error)

// StoreAware is implemented by drivers that persist the cross-platform
// message-ID correspondence for reply threading (spec'd in pkg/store). Build
// never calls SetStore itself; the caller that owns the *store.MessageDB
// does so after construction, only for drivers that opt in.
type StoreAware interface {
	SetStore(db *store.MessageDB)
}
