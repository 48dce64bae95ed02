package main

import "time"

// Matrix geometry. The key map below mirrors the physical wiring of the
// 4x5 switch grid: 16 playable keys, one spare key (16) and the encoder
// push switch (17).
const (
	numRows         = 4
	numCols         = 5
	numSwitches     = 18
	numPlayableKeys = 16
	encoderSwitch   = 17
)

// Default GPIO line offsets (RP2040-style numbering on gpiochip0).
var (
	defaultRowOffsets = []uint32{8, 10, 14, 26}
	defaultColOffsets = []uint32{5, 7, 9, 11, 15}
)

const (
	defaultEncoderClkOffset = 4
	defaultEncoderDtOffset  = 1
)

// Scan timing defaults
const (
	defaultDebounce   = 20 * time.Millisecond
	defaultRowSettle  = 100 * time.Microsecond
	defaultTickPeriod = 10 * time.Millisecond
)

// Encoder acceleration defaults: two falling edges closer than the
// threshold double the reported delta.
const (
	defaultAccelThreshold  = 50 * time.Millisecond
	defaultAccelMultiplier = 2
)

// MIDI defaults
const (
	defaultMIDIChannel  = 1
	defaultNoteVelocity = 100
	defaultInitialValue = 64

	ccAllNotesOff = 123
)

// UI timing
const (
	defaultRedrawInterval = 100 * time.Millisecond
	keyFlashDuration      = 30 * time.Millisecond
	teardownBlinkPeriod   = 150 * time.Millisecond
	teardownBlinkCount    = 3
)

// LED defaults
const (
	numLEDs           = 16
	defaultBrightness = 0.3
)
