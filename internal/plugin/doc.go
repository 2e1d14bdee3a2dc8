// Package plugin defines the integration contract and manages plugin
// lifecycle and discovery.
//
// A plugin wraps one device ecosystem (a Philips Hue bridge, a Mi Home
// gateway) behind the Plugin interface. The Registry owns the lifecycle:
// unloaded -> initialized -> running -> stopped, with stopped -> running
// for restarts. Lifecycle calls for one plugin never overlap; different
// plugins move independently, and one plugin failing to initialise or
// start does not stop the others.
//
// While a plugin runs, the registry polls Discover on the configured
// interval and merges results into the device registry. A device absent
// from more consecutive cycles than the grace period is marked offline;
// discovery never deletes devices.
package plugin
