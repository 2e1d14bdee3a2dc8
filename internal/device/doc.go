// Package device provides the device registry: the hub's authoritative
// inventory of every light, sensor, switch, and other entity the plugins
// have discovered.
//
// The registry layers an in-memory cache over a SQLite repository so
// lookups by the dispatcher and the voice interpreter never touch the
// database. All reads return deep copies; cached devices are never
// handed out by reference.
//
// Mutations go through per-device commit locks: concurrent state changes
// for the same device apply one at a time, and the matching bus event is
// published before the lock is released, so subscribers see a device's
// changes in commit order.
//
// The capability model lives here too: DeviceType and Capability
// enumerate what devices are and what they can do, and ActionCapabilities
// maps each dispatchable action to the capability that permits it.
package device
