// Package eventbus provides the in-process publish/subscribe channel
// connecting hub components: the device registry publishes state changes,
// plugins publish lifecycle events, and consumers such as the WebSocket
// hub, the MQTT relay, and the voice interpreter subscribe to what they
// need.
//
// Delivery guarantees:
//
//   - Publish never blocks. Each subscriber has an independent bounded
//     buffer; when it overflows the subscriber's oldest pending event is
//     discarded and counted, never the publisher delayed.
//   - Each subscriber sees events in publish order. Because state changes
//     are published under the registry's per-device commit lock, this
//     gives per-device ordering end to end.
//   - A slow subscriber only loses its own events; other subscribers are
//     unaffected.
package eventbus
