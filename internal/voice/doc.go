// Package voice turns transcribed utterances into dispatched device
// actions.
//
// Each utterance runs through a fixed pipeline: wake-word gating (when
// enabled), a regex command grammar, device resolution against the
// registry, and a concurrent dispatch fan-out. Selectors cover exact
// device names, rooms, "all lights" type selectors, and room/type
// combinations like "kitchen lights". A command that resolves to
// several devices reports a per-device result; one unreachable bulb
// does not fail the whole intent.
//
// The acoustic pipeline is external: the interpreter consumes already
// transcribed text and hands its replies to a Speaker for synthesis.
package voice
