package main

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// MIDI 1.0 channel-voice status bytes (upper nibble; lower nibble carries
// the zero-based channel).
const (
	statusNoteOff       = 0x80
	statusNoteOn        = 0x90
	statusControlChange = 0xB0
	statusProgramChange = 0xC0
)

// midiPort is the transport the encoder writes raw MIDI bytes to.
// Production uses a gomidi out port; tests substitute a recorder.
type midiPort interface {
	Send(data []byte) error
}

// openMIDIOut opens the first MIDI output port whose name contains
// nameSubstr (case-insensitive). An empty substring opens the first
// available port.
func openMIDIOut(drv *rtmididrv.Driver, nameSubstr string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list midi outputs: %w", err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("no midi output ports available")
	}

	var port drivers.Out
	if nameSubstr == "" {
		port = outs[0]
	} else {
		want := strings.ToLower(nameSubstr)
		for _, out := range outs {
			if strings.Contains(strings.ToLower(out.String()), want) {
				port = out
				break
			}
		}
		if port == nil {
			return nil, fmt.Errorf("no midi output port matching %q", nameSubstr)
		}
	}

	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("open midi output %q: %w", port.String(), err)
	}
	return port, nil
}

// midiOut builds wire-correct MIDI 1.0 messages and writes them to a port.
//
// All numeric fields are clamped, never rejected: real-time operation is
// worth more than strict validation here.
type midiOut struct {
	port           midiPort
	defaultChannel int
}

func newMIDIOut(port midiPort, defaultChannel int) *midiOut {
	return &midiOut{
		port:           port,
		defaultChannel: clamp(defaultChannel, 1, 16),
	}
}

// channel resolves a channel argument: 0 means the default, everything
// clamps to [1,16].
func (m *midiOut) channel(ch int) int {
	if ch == 0 {
		return m.defaultChannel
	}
	return clamp(ch, 1, 16)
}

// NoteOn sends 0x9n note velocity.
func (m *midiOut) NoteOn(note, velocity, ch int) error {
	status := byte(statusNoteOn | (m.channel(ch) - 1))
	return m.port.Send([]byte{status, byte(clamp(note, 0, 127)), byte(clamp(velocity, 0, 127))})
}

// NoteOff sends 0x8n note 0 (release velocity 0).
func (m *midiOut) NoteOff(note, ch int) error {
	status := byte(statusNoteOff | (m.channel(ch) - 1))
	return m.port.Send([]byte{status, byte(clamp(note, 0, 127)), 0})
}

// ControlChange sends 0xBn controller value.
func (m *midiOut) ControlChange(controller, value, ch int) error {
	status := byte(statusControlChange | (m.channel(ch) - 1))
	return m.port.Send([]byte{status, byte(clamp(controller, 0, 127)), byte(clamp(value, 0, 127))})
}

// ProgramChange sends the two-byte 0xCn program message.
func (m *midiOut) ProgramChange(program, ch int) error {
	status := byte(statusProgramChange | (m.channel(ch) - 1))
	return m.port.Send([]byte{status, byte(clamp(program, 0, 127))})
}

// AllNotesOff sends CC#123 on one channel.
func (m *midiOut) AllNotesOff(ch int) error {
	return m.ControlChange(ccAllNotesOff, 0, ch)
}

// Shutdown sweeps CC#123 across every channel. This is defensive and
// independent of any note tracking: whatever a receiver thinks is still
// sounding, it gets silenced.
func (m *midiOut) Shutdown() error {
	var firstErr error
	for ch := 1; ch <= 16; ch++ {
		if err := m.AllNotesOff(ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// noteTracker enforces at-most-one active Note-On per pitch on top of
// midiOut. Play while a pitch is sounding is a no-op, as is Stop for a
// pitch that isn't.
type noteTracker struct {
	out    *midiOut
	active map[int]struct{}
}

func newNoteTracker(out *midiOut) *noteTracker {
	return &noteTracker{
		out:    out,
		active: make(map[int]struct{}),
	}
}

func (t *noteTracker) Play(note, velocity, ch int) error {
	note = clamp(note, 0, 127)
	if _, sounding := t.active[note]; sounding {
		return nil
	}
	if err := t.out.NoteOn(note, velocity, ch); err != nil {
		return err
	}
	t.active[note] = struct{}{}
	return nil
}

func (t *noteTracker) Stop(note, ch int) error {
	note = clamp(note, 0, 127)
	if _, sounding := t.active[note]; !sounding {
		return nil
	}
	if err := t.out.NoteOff(note, ch); err != nil {
		return err
	}
	delete(t.active, note)
	return nil
}

// StopAll sends Note-Off for every active pitch and clears the set.
func (t *noteTracker) StopAll(ch int) error {
	var firstErr error
	for note := range t.active {
		if err := t.out.NoteOff(note, ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	clear(t.active)
	return firstErr
}

func (t *noteTracker) IsPlaying(note int) bool {
	_, sounding := t.active[note]
	return sounding
}
