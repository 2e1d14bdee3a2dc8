// Package dispatch routes action requests to device plugins.
//
// The dispatcher is the single write path for command-driven state:
// it resolves the target device, rejects actions outside the device's
// capability set, routes to the owning plugin with a bounded deadline,
// and commits the confirmed property delta through the device
// registry so subscribers see the change.
//
// Requests for the same device are serialised to keep property updates
// in a single total order; requests for different devices never block
// each other. Timed-out plugin calls are reported to the caller as
// failed but tracked to completion in the background, so registry
// state always converges on what the device actually did.
package dispatch
