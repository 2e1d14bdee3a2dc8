package voice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/emberfield/hearth-core/internal/device"
)

// Command maps a trigger pattern to an action and its parameter
// extraction rules. Patterns run against normalised utterances and use
// a named "target" group for the device selector.
type Command struct {
	Name    string
	Pattern *regexp.Regexp
	Action  device.Action

	// Params extracts action parameters from the pattern's named
	// groups. Nil for commands without parameters.
	Params func(groups map[string]string) map[string]any
}

// match is a command that matched an utterance, with its extracted
// groups and a specificity score for tie-breaking.
type match struct {
	command *Command
	groups  map[string]string

	// specificity counts the characters matched by fixed grammar, not
	// by the free-form target group. The most specific match wins.
	specificity int
}

// DefaultGrammar returns the built-in command set: power, brightness,
// colour and status over the capability vocabulary.
func DefaultGrammar() []Command {
	return []Command{
		{
			Name:    "turn_on",
			Pattern: regexp.MustCompile(`^turn on (?:the )?(?P<target>.+)$`),
			Action:  device.ActionTurnOn,
		},
		{
			Name:    "turn_off",
			Pattern: regexp.MustCompile(`^turn off (?:the )?(?P<target>.+)$`),
			Action:  device.ActionTurnOff,
		},
		{
			Name:    "switch_on",
			Pattern: regexp.MustCompile(`^switch on (?:the )?(?P<target>.+)$`),
			Action:  device.ActionTurnOn,
		},
		{
			Name:    "switch_off",
			Pattern: regexp.MustCompile(`^switch off (?:the )?(?P<target>.+)$`),
			Action:  device.ActionTurnOff,
		},
		{
			Name:    "set_brightness",
			Pattern: regexp.MustCompile(`^(?:set|dim) (?:the )?(?P<target>.+?)(?: brightness)? to (?P<brightness>\d+)(?: percent)?$`),
			Action:  device.ActionSetBrightness,
			Params: func(groups map[string]string) map[string]any {
				pct, _ := strconv.Atoi(groups["brightness"])
				return map[string]any{"brightness": clampPercent(pct)}
			},
		},
		{
			Name:    "set_color",
			Pattern: regexp.MustCompile(`^(?:set|make|change) (?:the )?(?P<target>.+?)(?: colou?r)? to (?P<color>red|orange|yellow|green|blue|purple|pink|white)$`),
			Action:  device.ActionSetColor,
			Params: func(groups map[string]string) map[string]any {
				return map[string]any{"color": colorToHex(groups["color"])}
			},
		},
		// Temperature needs an explicit marker ("temperature" or
		// "degrees") so bare "set X to N" stays a brightness command.
		{
			Name:    "set_temperature",
			Pattern: regexp.MustCompile(`^set (?:the )?(?P<target>.+?) temperature to (?P<temperature>\d+)(?: degrees)?$`),
			Action:  device.ActionSetTemperature,
			Params:  temperatureParams,
		},
		{
			Name:    "set_temperature_degrees",
			Pattern: regexp.MustCompile(`^set (?:the )?(?P<target>.+?) to (?P<temperature>\d+) degrees$`),
			Action:  device.ActionSetTemperature,
			Params:  temperatureParams,
		},
		{
			Name:    "get_status",
			Pattern: regexp.MustCompile(`^(?:what is|check) the (?:status|state) of (?:the )?(?P<target>.+)$`),
			Action:  device.ActionGetStatus,
		},
	}
}

func temperatureParams(groups map[string]string) map[string]any {
	deg, _ := strconv.Atoi(groups["temperature"])
	return map[string]any{"temperature": deg}
}

// clampPercent bounds spoken percentages to 0-100.
func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// colorNames maps the spoken colour vocabulary to hex values, so
// plugins receive a uniform colour encoding.
var colorNames = map[string]string{
	"red":    "#ff0000",
	"orange": "#ffa500",
	"yellow": "#ffff00",
	"green":  "#00ff00",
	"blue":   "#0000ff",
	"purple": "#800080",
	"pink":   "#ffc0cb",
	"white":  "#ffffff",
}

func colorToHex(name string) string {
	if hex, ok := colorNames[name]; ok {
		return hex
	}
	return name
}

// normalize lowercases an utterance and strips punctuation so the
// grammar sees a canonical form of the transcription.
var nonWord = regexp.MustCompile(`[^a-z0-9% ]+`)

func normalize(text string) string {
	text = strings.ToLower(text)
	text = nonWord.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// parse matches an utterance against the grammar. The most specific
// match wins; equally specific matches are ambiguous rather than
// guessed.
func parse(grammar []Command, utterance string) (*match, error) {
	var matches []match
	for i := range grammar {
		cmd := &grammar[i]
		m := cmd.Pattern.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}

		groups := make(map[string]string)
		for gi, name := range cmd.Pattern.SubexpNames() {
			if name != "" && gi < len(m) {
				groups[name] = m[gi]
			}
		}

		matches = append(matches, match{
			command:     cmd,
			groups:      groups,
			specificity: len(utterance) - len(groups["target"]),
		})
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrCommandNotRecognized, utterance)
	case 1:
		return &matches[0], nil
	}

	best, tied := matches[0], false
	for _, m := range matches[1:] {
		switch {
		case m.specificity > best.specificity:
			best, tied = m, false
		case m.specificity == best.specificity:
			tied = true
		}
	}
	if tied {
		return nil, fmt.Errorf("%w: %q", ErrAmbiguousCommand, utterance)
	}
	return &best, nil
}

// deviceTypeNames maps plural spoken forms to device types for "all X"
// selectors.
var deviceTypeNames = map[string]device.DeviceType{
	"lights":      device.DeviceTypeLight,
	"lamps":       device.DeviceTypeLight,
	"sensors":     device.DeviceTypeSensor,
	"switches":    device.DeviceTypeSwitch,
	"locks":       device.DeviceTypeLock,
	"thermostats": device.DeviceTypeClimate,
	"heaters":     device.DeviceTypeClimate,
	"speakers":    device.DeviceTypeMultimedia,
}

// allOfType recognises "all lights" / "every light" style selectors
// and returns the device type they name.
func allOfType(target string) (device.DeviceType, bool) {
	rest, ok := strings.CutPrefix(target, "all ")
	if !ok {
		if rest, ok = strings.CutPrefix(target, "every "); !ok {
			return "", false
		}
		rest += "s" // "every light" -> "lights"
	}
	rest = strings.TrimPrefix(rest, "the ")
	t, ok := deviceTypeNames[rest]
	return t, ok
}
