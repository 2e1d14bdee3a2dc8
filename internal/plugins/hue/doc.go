// Package hue integrates Philips Hue lights through the bridge's local
// HTTP API.
//
// The plugin polls the bridge for lights on each discovery cycle and
// reports reachable ones to the device registry. Actions are translated
// into bridge state updates: brightness percentages map onto the
// bridge's 1-254 range and named colours onto hue/saturation values.
//
// Configuration requires the bridge address and an application key
// registered with the bridge:
//
//	plugins:
//	  hue:
//	    bridge_ip: 192.168.1.50
//	    username: hearth-app-key
package hue
