package main

import (
	"testing"
	"time"
)

func testDispatchState() (*dispatchState, time.Time) {
	s := newDispatchState(defaultMIDIChannel, defaultNoteVelocity)
	return s, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}

func commandStrings(cmds []command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

func assertCommands(t *testing.T, got []command, want []string) {
	t.Helper()
	gotStr := commandStrings(got)
	if len(gotStr) != len(want) {
		t.Fatalf("commands = %v, want %v", gotStr, want)
	}
	for i := range want {
		if gotStr[i] != want[i] {
			t.Fatalf("command[%d] = %q, want %q\nfull: %v", i, gotStr[i], want[i], gotStr)
		}
	}
}

func TestDispatch_KeyPress(t *testing.T) {
	s, now := testDispatchState()

	cmds := dispatch(s, tickInput{pressed: []int{0}, now: now})

	assertCommands(t, cmds, []string{
		"NoteOn(key=0 note=60 vel=100 ch=1)",
		"FlashKey(key=0 val=64)",
		"ShowStatus(key=0 val=64)",
	})
}

func TestDispatch_KeyRelease(t *testing.T) {
	s, now := testDispatchState()

	dispatch(s, tickInput{pressed: []int{0}, now: now})
	cmds := dispatch(s, tickInput{pressed: nil, now: now.Add(time.Second)})

	assertCommands(t, cmds, []string{
		"NoteOff(key=0 note=60 ch=1)",
		"ShowLayer()",
	})
}

func TestDispatch_ChordPressAndRelease(t *testing.T) {
	s, now := testDispatchState()

	// Two keys land in the same iteration.
	cmds := dispatch(s, tickInput{pressed: []int{2, 7}, now: now})
	assertCommands(t, cmds, []string{
		"NoteOn(key=2 note=62 vel=100 ch=1)",
		"FlashKey(key=2 val=64)",
		"ShowStatus(key=2 val=64)",
		"NoteOn(key=7 note=67 vel=100 ch=1)",
		"FlashKey(key=7 val=64)",
		"ShowStatus(key=7 val=64)",
	})

	// One lifts, one stays: no layer redraw while a key is held.
	cmds = dispatch(s, tickInput{pressed: []int{7}, now: now.Add(time.Second)})
	assertCommands(t, cmds, []string{
		"NoteOff(key=2 note=62 ch=1)",
	})
}

func TestDispatch_LayerRedrawThrottled(t *testing.T) {
	s, now := testDispatchState()

	// Press/release cycles inside one redraw interval draw the layer once.
	dispatch(s, tickInput{pressed: []int{0}, now: now})
	cmds := dispatch(s, tickInput{pressed: nil, now: now.Add(time.Second)})
	assertCommands(t, cmds, []string{
		"NoteOff(key=0 note=60 ch=1)",
		"ShowLayer()",
	})

	later := now.Add(time.Second + 50*time.Millisecond)
	dispatch(s, tickInput{pressed: []int{0}, now: later})
	cmds = dispatch(s, tickInput{pressed: nil, now: later.Add(10 * time.Millisecond)})
	assertCommands(t, cmds, []string{
		"NoteOff(key=0 note=60 ch=1)",
	})

	// Past the interval the redraw fires again.
	much := later.Add(defaultRedrawInterval + 20*time.Millisecond)
	dispatch(s, tickInput{pressed: []int{0}, now: much})
	cmds = dispatch(s, tickInput{pressed: nil, now: much.Add(defaultRedrawInterval + time.Millisecond)})
	assertCommands(t, cmds, []string{
		"NoteOff(key=0 note=60 ch=1)",
		"ShowLayer()",
	})
}

func TestDispatch_EncoderAdjustsHeldKey(t *testing.T) {
	s, now := testDispatchState()

	dispatch(s, tickInput{pressed: []int{3}, now: now})
	cmds := dispatch(s, tickInput{pressed: []int{3}, delta: 1, now: now.Add(10 * time.Millisecond)})

	assertCommands(t, cmds, []string{
		"CC(key=3 cc=4 val=65 ch=1)",
		"SetKeyValue(key=3 val=65)",
		"ShowStatus(key=3 val=65)",
		"ShowLEDs()",
	})
	if s.values[3] != 65 {
		t.Fatalf("values[3] = %d, want 65", s.values[3])
	}
}

func TestDispatch_EncoderFansOutToChord(t *testing.T) {
	s, now := testDispatchState()

	dispatch(s, tickInput{pressed: []int{1, 5, 9}, now: now})
	cmds := dispatch(s, tickInput{pressed: []int{1, 5, 9}, delta: -2, now: now.Add(10 * time.Millisecond)})

	// Every held key gets CC + LED; only the first held key refreshes
	// the display.
	assertCommands(t, cmds, []string{
		"CC(key=1 cc=2 val=62 ch=1)",
		"SetKeyValue(key=1 val=62)",
		"ShowStatus(key=1 val=62)",
		"CC(key=5 cc=6 val=62 ch=1)",
		"SetKeyValue(key=5 val=62)",
		"CC(key=9 cc=10 val=62 ch=1)",
		"SetKeyValue(key=9 val=62)",
		"ShowLEDs()",
	})
}

func TestDispatch_EncoderWithoutHeldKeysDoesNothing(t *testing.T) {
	s, now := testDispatchState()

	cmds := dispatch(s, tickInput{pressed: nil, delta: 3, now: now})
	if len(cmds) != 0 {
		t.Fatalf("commands = %v, want none", commandStrings(cmds))
	}
}

func TestDispatch_SaturatedValueEmitsNoCC(t *testing.T) {
	s, now := testDispatchState()
	s.values[0] = 127
	s.values[4] = 100

	dispatch(s, tickInput{pressed: []int{0, 4}, now: now})
	cmds := dispatch(s, tickInput{pressed: []int{0, 4}, delta: 1, now: now.Add(10 * time.Millisecond)})

	// Key 0 is pinned at the ceiling: no CC, no LED update, and since it
	// is the first held key, no status refresh either. The LED flush
	// still runs for the key that moved.
	assertCommands(t, cmds, []string{
		"CC(key=4 cc=5 val=101 ch=1)",
		"SetKeyValue(key=4 val=101)",
		"ShowLEDs()",
	})
}

func TestDispatch_ValueClampsAtFloor(t *testing.T) {
	s, now := testDispatchState()
	s.values[2] = 1

	dispatch(s, tickInput{pressed: []int{2}, now: now})
	cmds := dispatch(s, tickInput{pressed: []int{2}, delta: -4, now: now.Add(10 * time.Millisecond)})

	assertCommands(t, cmds, []string{
		"CC(key=2 cc=3 val=0 ch=1)",
		"SetKeyValue(key=2 val=0)",
		"ShowStatus(key=2 val=0)",
		"ShowLEDs()",
	})
	if s.values[2] != 0 {
		t.Fatalf("values[2] = %d, want 0", s.values[2])
	}
}

func TestDispatch_PressAndTurnSameIteration(t *testing.T) {
	s, now := testDispatchState()

	// A fresh press and an encoder tick in the same iteration: note
	// effects first, then the value change for the now-held key.
	cmds := dispatch(s, tickInput{pressed: []int{6}, delta: 1, now: now})

	assertCommands(t, cmds, []string{
		"NoteOn(key=6 note=66 vel=100 ch=1)",
		"FlashKey(key=6 val=64)",
		"ShowStatus(key=6 val=64)",
		"CC(key=6 cc=7 val=65 ch=1)",
		"SetKeyValue(key=6 val=65)",
		"ShowStatus(key=6 val=65)",
		"ShowLEDs()",
	})
}

func TestSetDiff(t *testing.T) {
	cases := []struct {
		a, b, want []int
	}{
		{nil, nil, nil},
		{[]int{1, 2, 3}, nil, []int{1, 2, 3}},
		{nil, []int{1, 2}, nil},
		{[]int{1, 2, 3}, []int{2}, []int{1, 3}},
		{[]int{1, 2, 3}, []int{1, 2, 3}, nil},
		{[]int{5, 9}, []int{1, 5, 7}, []int{9}},
	}

	for _, tc := range cases {
		got := setDiff(tc.a, tc.b)
		if len(got) != len(tc.want) {
			t.Errorf("setDiff(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("setDiff(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
				break
			}
		}
	}
}
