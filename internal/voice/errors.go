package voice

import "errors"

// Sentinel errors returned by the interpreter. Match with errors.Is.
var (
	// ErrCommandNotRecognized is returned when an utterance matches no
	// registered command pattern.
	ErrCommandNotRecognized = errors.New("voice: command not recognized")

	// ErrNoMatchingDevice is returned when a command's device selector
	// resolves to zero registered devices.
	ErrNoMatchingDevice = errors.New("voice: no matching device")

	// ErrAmbiguousCommand is returned when an utterance matches several
	// command patterns with equal specificity.
	ErrAmbiguousCommand = errors.New("voice: ambiguous command")
)
