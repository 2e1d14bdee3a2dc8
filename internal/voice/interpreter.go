package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/dispatch"
	"github.com/emberfield/hearth-core/internal/eventbus"
)

// Logger defines the logging interface used by the Interpreter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher is the bus interpreted commands are announced on.
type EventPublisher interface {
	Publish(event eventbus.Event)
}

// noopPublisher discards events. Used until a bus is attached.
type noopPublisher struct{}

func (noopPublisher) Publish(eventbus.Event) {}

// Executor fans action requests out to devices. *dispatch.Dispatcher
// satisfies it.
type Executor interface {
	ExecuteAll(ctx context.Context, reqs []dispatch.Request) []dispatch.Result
}

// Speaker receives the interpreter's spoken replies. The speech
// synthesis collaborator owns all audio concerns.
type Speaker interface {
	Speak(text string)
}

// noopSpeaker discards replies.
type noopSpeaker struct{}

func (noopSpeaker) Speak(string) {}

// State is an utterance's position in the interpretation pipeline.
type State string

// Terminal interpretation states. An utterance without the wake word
// is discarded, not failed.
const (
	StateDiscarded State = "discarded"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Intent is a parsed and resolved utterance.
type Intent struct {
	RawText        string         `json:"raw_text"`
	MatchedCommand string         `json:"matched_command"`
	Action         device.Action  `json:"action"`
	TargetDevices  []string       `json:"target_devices"`
	Params         map[string]any `json:"params,omitempty"`
	Confidence     float64        `json:"confidence"`
}

// Response is the outcome of one interpretation cycle. Results carries
// the per-device dispatch outcomes; partial failure across fanned-out
// devices leaves the state completed.
type Response struct {
	State   State             `json:"state"`
	Intent  *Intent           `json:"intent,omitempty"`
	Results []dispatch.Result `json:"-"`
	Reply   string            `json:"reply,omitempty"`
}

// Interpreter turns transcribed utterances into dispatched actions.
type Interpreter struct {
	devices    *device.Registry
	dispatcher Executor
	grammar    []Command
	events     EventPublisher
	speaker    Speaker
	logger     Logger

	wakeWord        string
	wakeWordEnabled bool
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithWakeWord enables wake-word gating: utterances not containing the
// phrase are discarded without interpretation.
func WithWakeWord(phrase string) Option {
	return func(i *Interpreter) {
		i.wakeWord = normalize(phrase)
		i.wakeWordEnabled = i.wakeWord != ""
	}
}

// WithGrammar replaces the default command grammar.
func WithGrammar(grammar []Command) Option {
	return func(i *Interpreter) {
		i.grammar = grammar
	}
}

// WithSpeaker attaches the speech synthesis collaborator.
func WithSpeaker(speaker Speaker) Option {
	return func(i *Interpreter) {
		i.speaker = speaker
	}
}

// New creates an interpreter over the device registry and dispatcher.
func New(devices *device.Registry, dispatcher Executor, opts ...Option) *Interpreter {
	i := &Interpreter{
		devices:    devices,
		dispatcher: dispatcher,
		grammar:    DefaultGrammar(),
		events:     noopPublisher{},
		speaker:    noopSpeaker{},
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetLogger sets the logger for the interpreter.
func (i *Interpreter) SetLogger(logger Logger) {
	i.logger = logger
}

// RegisterCommand adds a command to the grammar. Later registrations
// still compete on specificity with the built-in set. Not safe to call
// concurrently with Interpret.
func (i *Interpreter) RegisterCommand(cmd Command) error {
	if cmd.Name == "" || cmd.Pattern == nil || cmd.Action == "" {
		return fmt.Errorf("voice: command needs a name, pattern, and action")
	}
	i.grammar = append(i.grammar, cmd)
	return nil
}

// SetEventPublisher attaches the bus interpreted commands are
// published on.
func (i *Interpreter) SetEventPublisher(events EventPublisher) {
	i.events = events
}

// Interpret runs one utterance through the full pipeline: wake-word
// check, grammar parse, device resolution, and concurrent dispatch.
//
// A response with state completed carries per-device results; partial
// failure across multiple matched devices does not fail the intent.
// Parse and resolution failures return the voice sentinel errors
// alongside a failed response whose Reply is suitable for synthesis.
func (i *Interpreter) Interpret(ctx context.Context, text string) (*Response, error) {
	utterance := normalize(text)

	if i.wakeWordEnabled {
		rest, ok := cutWakeWord(utterance, i.wakeWord)
		if !ok {
			i.logger.Debug("utterance without wake word discarded")
			return &Response{State: StateDiscarded}, nil
		}
		utterance = rest
	}

	m, err := parse(i.grammar, utterance)
	if err != nil {
		return i.fail(text, "Sorry, I didn't understand that."), err
	}

	targets, err := i.resolveTarget(ctx, m.groups["target"])
	if err != nil {
		return i.fail(text, i.noMatchReply(ctx, m.groups["target"])), err
	}

	intent := &Intent{
		RawText:        text,
		MatchedCommand: m.command.Name,
		Action:         m.command.Action,
		Confidence:     1.0,
	}
	if m.command.Params != nil {
		intent.Params = m.command.Params(m.groups)
	}

	reqs := make([]dispatch.Request, len(targets))
	for j, dev := range targets {
		intent.TargetDevices = append(intent.TargetDevices, dev.ID)
		reqs[j] = dispatch.Request{
			DeviceID: dev.ID,
			Action:   intent.Action,
			Params:   intent.Params,
		}
	}

	results := i.dispatcher.ExecuteAll(ctx, reqs)

	succeeded := 0
	for _, res := range results {
		if res.Err == nil {
			succeeded++
		}
	}

	i.events.Publish(eventbus.Event{
		Type: eventbus.EventVoiceCommand,
		Payload: map[string]any{
			"raw_text":  text,
			"command":   intent.MatchedCommand,
			"devices":   len(targets),
			"succeeded": succeeded,
		},
	})
	i.logger.Info("voice command interpreted",
		"command", intent.MatchedCommand, "devices", len(targets), "succeeded", succeeded)

	reply := i.buildReply(intent, targets, succeeded)
	i.speaker.Speak(reply)

	return &Response{
		State:   StateCompleted,
		Intent:  intent,
		Results: results,
		Reply:   reply,
	}, nil
}

// fail speaks and returns a failed response.
func (i *Interpreter) fail(text, reply string) *Response {
	i.speaker.Speak(reply)
	return &Response{
		State:  StateFailed,
		Intent: &Intent{RawText: text},
		Reply:  reply,
	}
}

// resolveTarget maps a spoken device selector to registered devices.
//
// Selectors, most specific first: an exact device name, an "all X"
// type selector, a room name, and "<room> <type>" combinations such as
// "kitchen lights".
func (i *Interpreter) resolveTarget(ctx context.Context, target string) ([]device.Device, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrNoMatchingDevice)
	}

	if target == "everything" || target == "all devices" {
		all, err := i.devices.ListDevices(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("%w: no devices registered", ErrNoMatchingDevice)
		}
		return all, nil
	}

	if byName, err := i.devicesByName(ctx, target); err != nil {
		return nil, err
	} else if len(byName) > 0 {
		return byName, nil
	}

	if typ, ok := allOfType(target); ok {
		devices, err := i.devices.GetDevicesByType(ctx, typ)
		if err != nil {
			return nil, err
		}
		if len(devices) > 0 {
			return devices, nil
		}
		return nil, fmt.Errorf("%w: no %s registered", ErrNoMatchingDevice, typ)
	}

	if byRoom, err := i.devices.GetDevicesByRoom(ctx, target); err != nil {
		return nil, err
	} else if len(byRoom) > 0 {
		return byRoom, nil
	}

	// "kitchen lights": last word names a type, the rest a room.
	if room, typ, ok := splitRoomType(target); ok {
		byRoom, err := i.devices.GetDevicesByRoom(ctx, room)
		if err != nil {
			return nil, err
		}
		var matched []device.Device
		for _, dev := range byRoom {
			if dev.Type == typ {
				matched = append(matched, dev)
			}
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNoMatchingDevice, target)
}

// devicesByName finds devices whose name matches the selector,
// case-insensitively. Exact matches win; otherwise the selector
// matches as a substring, so "desk lamp" finds "Office Desk Lamp".
func (i *Interpreter) devicesByName(ctx context.Context, target string) ([]device.Device, error) {
	all, err := i.devices.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var exact, partial []device.Device
	for _, dev := range all {
		switch {
		case strings.EqualFold(dev.Name, target):
			exact = append(exact, dev)
		case strings.Contains(strings.ToLower(dev.Name), target):
			partial = append(partial, dev)
		}
	}
	if len(exact) > 0 {
		return exact, nil
	}
	return partial, nil
}

// splitRoomType splits "<room> <plural type>" selectors.
func splitRoomType(target string) (room string, typ device.DeviceType, ok bool) {
	idx := strings.LastIndex(target, " ")
	if idx < 0 {
		return "", "", false
	}
	typ, found := deviceTypeNames[target[idx+1:]]
	if !found {
		return "", "", false
	}
	return target[:idx], typ, true
}

// cutWakeWord removes the wake phrase from an utterance, reporting
// whether it was present.
func cutWakeWord(utterance, wakeWord string) (string, bool) {
	idx := strings.Index(utterance, wakeWord)
	if idx < 0 {
		return "", false
	}
	rest := utterance[:idx] + utterance[idx+len(wakeWord):]
	return strings.Join(strings.Fields(rest), " "), true
}

// noMatchReply phrases a resolution failure, suggesting close device
// names when the selector shares a word with one.
func (i *Interpreter) noMatchReply(ctx context.Context, target string) string {
	reply := fmt.Sprintf("Sorry, I couldn't find %s.", target)

	all, err := i.devices.ListDevices(ctx)
	if err != nil {
		return reply
	}

	words := strings.Fields(target)
	var suggestions []string
	for _, dev := range all {
		name := strings.ToLower(dev.Name)
		for _, w := range words {
			if strings.Contains(name, w) {
				suggestions = append(suggestions, dev.Name)
				break
			}
		}
		if len(suggestions) == 3 {
			break
		}
	}
	if len(suggestions) > 0 {
		reply += " Did you mean " + strings.Join(suggestions, ", ") + "?"
	}
	return reply
}

// buildReply phrases the outcome for speech synthesis.
func (i *Interpreter) buildReply(intent *Intent, targets []device.Device, succeeded int) string {
	subject := fmt.Sprintf("%d devices", len(targets))
	if len(targets) == 1 {
		subject = targets[0].Name
	}

	switch {
	case succeeded == len(targets):
		return fmt.Sprintf("Okay, %s for %s.", spokenAction(intent.Action), subject)
	case succeeded == 0:
		return fmt.Sprintf("Sorry, %s didn't respond.", subject)
	default:
		return fmt.Sprintf("Done for %d of %d devices.", succeeded, len(targets))
	}
}

// spokenAction phrases an action for replies.
func spokenAction(action device.Action) string {
	switch action {
	case device.ActionTurnOn:
		return "turning on"
	case device.ActionTurnOff:
		return "turning off"
	case device.ActionSetBrightness:
		return "setting brightness"
	case device.ActionSetColor:
		return "changing colour"
	case device.ActionSetTemperature:
		return "setting temperature"
	case device.ActionGetStatus:
		return "checking status"
	default:
		return string(action)
	}
}
