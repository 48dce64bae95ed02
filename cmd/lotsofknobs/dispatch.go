package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Dispatch core
// ============================================================================
//
// One loop iteration = one call to dispatch(): it takes the debounced key
// set and the encoder delta, diffs against the previous iteration, and
// returns the side effects to perform, in order. dispatch performs no I/O
// and touches nothing outside dispatchState, so every gesture is testable
// without hardware.
//
// The control loop executes the returned commands against the MIDI, LED
// and display collaborators (loop.go).
// ============================================================================

// keyToNote maps key index to MIDI note: C4 (60) through D#5 (75).
var keyToNote = [numPlayableKeys]int{
	60, 61, 62, 63,
	64, 65, 66, 67,
	68, 69, 70, 71,
	72, 73, 74, 75,
}

// keyToCC maps key index to controller number: CC#1 through CC#16.
var keyToCC = [numPlayableKeys]int{
	1, 2, 3, 4,
	5, 6, 7, 8,
	9, 10, 11, 12,
	13, 14, 15, 16,
}

// keyParamNames are the labels shown on the status screen.
var keyParamNames = [numPlayableKeys]string{
	"Cutoff", "Reso", "Attack", "Decay",
	"Release", "LFO Rt", "LFO Amt", "Drive",
	"Reverb", "Delay", "Chorus", "Pan",
	"Volume", "Filter", "Pitch", "Mod",
}

// dispatchState is the session state owned by the control loop: the
// previous iteration's pressed set, the per-key CC values, and the fixed
// layer/channel context. Single-owner, mutated only by dispatch().
type dispatchState struct {
	prevPressed []int
	values      [numPlayableKeys]int

	channel   int
	velocity  int
	layerNum  int
	layerName string

	redrawInterval time.Duration
	lastLayerDraw  time.Time
}

func newDispatchState(channel, velocity int) *dispatchState {
	s := &dispatchState{
		channel:        clamp(channel, 1, 16),
		velocity:       clamp(velocity, 0, 127),
		layerNum:       1,
		layerName:      "Default",
		redrawInterval: defaultRedrawInterval,
	}
	for i := range s.values {
		s.values[i] = defaultInitialValue
	}
	return s
}

// tickInput is one iteration's physical readings, taken before any derived
// effect runs.
type tickInput struct {
	// pressed holds the debounced playable keys (0-15), ascending.
	pressed []int
	// delta is the encoder movement actually applied after clamping.
	delta int
	now   time.Time
}

// ============================================================================
// Commands (side effects requested by dispatch)
// ============================================================================

type command interface {
	commandMarker()
	String() string
}

// cmdNoteOn starts a note for a newly pressed key.
type cmdNoteOn struct {
	Key, Note, Velocity, Channel int
}

func (cmdNoteOn) commandMarker() {}
func (c cmdNoteOn) String() string {
	return fmt.Sprintf("NoteOn(key=%d note=%d vel=%d ch=%d)", c.Key, c.Note, c.Velocity, c.Channel)
}

// cmdNoteOff ends a note for a newly released key.
type cmdNoteOff struct {
	Key, Note, Channel int
}

func (cmdNoteOff) commandMarker() {}
func (c cmdNoteOff) String() string {
	return fmt.Sprintf("NoteOff(key=%d note=%d ch=%d)", c.Key, c.Note, c.Channel)
}

// cmdControlChange reports a changed per-key value.
type cmdControlChange struct {
	Key, Controller, Value, Channel int
}

func (cmdControlChange) commandMarker() {}
func (c cmdControlChange) String() string {
	return fmt.Sprintf("CC(key=%d cc=%d val=%d ch=%d)", c.Key, c.Controller, c.Value, c.Channel)
}

// cmdFlashKey flashes a key's LED white, then restores its value color.
type cmdFlashKey struct {
	Key, Value int
}

func (cmdFlashKey) commandMarker() {}
func (c cmdFlashKey) String() string {
	return fmt.Sprintf("FlashKey(key=%d val=%d)", c.Key, c.Value)
}

// cmdSetKeyValue updates a key's LED to its value color (no flush).
type cmdSetKeyValue struct {
	Key, Value int
}

func (cmdSetKeyValue) commandMarker() {}
func (c cmdSetKeyValue) String() string {
	return fmt.Sprintf("SetKeyValue(key=%d val=%d)", c.Key, c.Value)
}

// cmdShowLEDs flushes the LED buffer.
type cmdShowLEDs struct{}

func (cmdShowLEDs) commandMarker() {}
func (cmdShowLEDs) String() string { return "ShowLEDs()" }

// cmdShowStatus refreshes the display with one key's full status.
type cmdShowStatus struct {
	Key, Value int
}

func (cmdShowStatus) commandMarker() {}
func (c cmdShowStatus) String() string {
	return fmt.Sprintf("ShowStatus(key=%d val=%d)", c.Key, c.Value)
}

// cmdShowLayer re-renders the idle layer view.
type cmdShowLayer struct{}

func (cmdShowLayer) commandMarker() {}
func (cmdShowLayer) String() string { return "ShowLayer()" }

// ============================================================================
// The step function
// ============================================================================

// dispatch advances the session state by one iteration and returns the
// commands to execute, ordered: presses, then releases, then the idle
// redraw, then encoder-driven value changes.
//
// Guarantees:
//   - each physical press/release edge yields exactly one Note command
//     (the executor's note tracker additionally dedupes by pitch);
//   - an encoder tick fans out to every held key, so chord-and-twist
//     gestures adjust several parameters at once;
//   - only the first held key refreshes the display, and the idle layer
//     redraw is throttled to one per redrawInterval.
func dispatch(s *dispatchState, in tickInput) []command {
	var cmds []command

	newlyPressed := setDiff(in.pressed, s.prevPressed)
	newlyReleased := setDiff(s.prevPressed, in.pressed)

	for _, key := range newlyPressed {
		cmds = append(cmds,
			cmdNoteOn{Key: key, Note: keyToNote[key], Velocity: s.velocity, Channel: s.channel},
			cmdFlashKey{Key: key, Value: s.values[key]},
			cmdShowStatus{Key: key, Value: s.values[key]},
		)
	}

	for _, key := range newlyReleased {
		cmds = append(cmds, cmdNoteOff{Key: key, Note: keyToNote[key], Channel: s.channel})
	}

	// Everything released: fall back to the layer view, at most once per
	// redraw interval so release bursts don't hammer the display.
	if len(in.pressed) == 0 && len(s.prevPressed) > 0 {
		if in.now.Sub(s.lastLayerDraw) > s.redrawInterval {
			cmds = append(cmds, cmdShowLayer{})
			s.lastLayerDraw = in.now
		}
	}

	if in.delta != 0 && len(in.pressed) > 0 {
		first := in.pressed[0]
		for _, key := range in.pressed {
			old := s.values[key]
			s.values[key] = clamp(old+in.delta, 0, 127)
			if s.values[key] == old {
				continue
			}

			cmds = append(cmds,
				cmdControlChange{Key: key, Controller: keyToCC[key], Value: s.values[key], Channel: s.channel},
				cmdSetKeyValue{Key: key, Value: s.values[key]},
			)
			if key == first {
				cmds = append(cmds, cmdShowStatus{Key: key, Value: s.values[key]})
			}
		}
		cmds = append(cmds, cmdShowLEDs{})
	}

	s.prevPressed = append(s.prevPressed[:0], in.pressed...)
	return cmds
}

// setDiff returns the elements of a not present in b. Both inputs are
// ascending; the result preserves a's order.
func setDiff(a, b []int) []int {
	var out []int
	j := 0
	for _, x := range a {
		for j < len(b) && b[j] < x {
			j++
		}
		if j < len(b) && b[j] == x {
			continue
		}
		out = append(out, x)
	}
	return out
}
