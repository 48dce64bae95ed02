package main

import "time"

// encoderPins abstracts the encoder's two phase inputs.
type encoderPins interface {
	// ReadPhases returns the electrical levels of phase A (CLK) and
	// phase B (DT).
	ReadPhases() (a, b bool)
	Close() error
}

// rotaryEncoder decodes the two-phase quadrature signal into signed detents.
//
// Decoding is deliberately half-cycle: only the falling edge of phase A
// registers movement, with direction sampled from phase B at that instant
// (B high = clockwise, B low = counter-clockwise). Sampling both edges
// would double the resolution, which is not what this hardware's detents
// correspond to.
type rotaryEncoder struct {
	pins encoderPins

	position     int
	lastPhaseA   bool
	lastRotation time.Time

	accelEnabled    bool
	accelThreshold  time.Duration
	accelMultiplier int

	now func() time.Time
}

func newRotaryEncoder(pins encoderPins, accelEnabled bool) *rotaryEncoder {
	a, _ := pins.ReadPhases()
	return &rotaryEncoder{
		pins:            pins,
		lastPhaseA:      a,
		accelEnabled:    accelEnabled,
		accelThreshold:  defaultAccelThreshold,
		accelMultiplier: defaultAccelMultiplier,
		now:             time.Now,
	}
}

// Update samples the phases once and returns the rotation registered since
// the previous call: +1 clockwise, -1 counter-clockwise, 0 if phase A did
// not fall. With acceleration enabled, edges arriving faster than the
// threshold are scaled by the multiplier (sign preserved).
//
// Must be called every loop iteration; edges between calls are lost.
func (e *rotaryEncoder) Update() int {
	a, b := e.pins.ReadPhases()
	delta := 0

	if e.lastPhaseA && !a {
		now := e.now()

		if b {
			delta = 1
			e.position++
		} else {
			delta = -1
			e.position--
		}

		if e.accelEnabled && now.Sub(e.lastRotation) < e.accelThreshold {
			delta *= e.accelMultiplier
		}

		e.lastRotation = now
	}

	e.lastPhaseA = a
	return delta
}

// Position returns the unbounded accumulated detent count.
func (e *rotaryEncoder) Position() int {
	return e.position
}

// SetAcceleration toggles velocity-based delta scaling.
func (e *rotaryEncoder) SetAcceleration(enabled bool) {
	e.accelEnabled = enabled
}

// SetAccelerationTuning adjusts the edge-gap threshold and the delta
// multiplier used while acceleration is enabled.
func (e *rotaryEncoder) SetAccelerationTuning(threshold time.Duration, multiplier int) {
	if threshold > 0 {
		e.accelThreshold = threshold
	}
	if multiplier >= 1 {
		e.accelMultiplier = multiplier
	}
}

func (e *rotaryEncoder) Close() error {
	return e.pins.Close()
}

// valueEncoder wraps a rotaryEncoder with a clamped value, matching the
// 0-127 range of a MIDI continuous controller.
type valueEncoder struct {
	encoder *rotaryEncoder

	value    int
	minValue int
	maxValue int
}

func newValueEncoder(encoder *rotaryEncoder, initial int) *valueEncoder {
	v := &valueEncoder{
		encoder:  encoder,
		minValue: 0,
		maxValue: 127,
	}
	v.value = clamp(initial, v.minValue, v.maxValue)
	return v
}

// Update decodes one sample and applies the raw delta to the stored value
// with saturation. It returns the change actually applied, which is smaller
// than the raw delta when the value hits a bound — callers adjusting their
// own state must use this return, not the raw detent count.
func (v *valueEncoder) Update() int {
	delta := v.encoder.Update()
	if delta == 0 {
		return 0
	}

	old := v.value
	v.value = clamp(v.value+delta, v.minValue, v.maxValue)
	return v.value - old
}

// Value returns the current clamped value.
func (v *valueEncoder) Value() int {
	return v.value
}

// SetValue stores a new value, clamped to the configured range.
func (v *valueEncoder) SetValue(value int) {
	v.value = clamp(value, v.minValue, v.maxValue)
}

// SetRange adjusts the bounds and re-clamps the current value.
func (v *valueEncoder) SetRange(minValue, maxValue int) {
	v.minValue = minValue
	v.maxValue = maxValue
	v.value = clamp(v.value, minValue, maxValue)
}

func (v *valueEncoder) Close() error {
	return v.encoder.Close()
}

// clamp saturates x to [lo, hi]. Out-of-range inputs are never rejected
// anywhere in this program, only clamped.
func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
