// Package mihome integrates Xiaomi gateway sensors pushed over MQTT.
//
// A gateway bridge on the local network decrypts the multicast
// protocol and republishes sensor reports as JSON on
// <topic_prefix>/sensor/<sid>. The plugin subscribes to that topic,
// forwards each report to the device registry as it arrives, and
// serves the latest snapshot from discovery cycles.
//
// Supported sensors are temperature/humidity, door/window contact and
// motion. All are read only; the only accepted action is get_status.
//
// Configuration:
//
//	plugins:
//	  mihome:
//	    gateway_ip: 192.168.1.60
//	    gateway_token: 9cf03e157d6c4a2b
//	    topic_prefix: mihome
package mihome
