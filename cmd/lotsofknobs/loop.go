package main

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// controller owns every collaborator and drives the cooperative polling
// loop: scan, decode, dispatch, execute, sleep. All mutable state is
// touched only from this goroutine.
type controller struct {
	logger *slog.Logger

	matrix  *keyMatrix
	encoder *valueEncoder
	leds    *ledController
	midi    *midiOut
	notes   *noteTracker
	disp    display

	// midiCloser is the underlying out port; nil under test.
	midiCloser io.Closer

	state *dispatchState
	tick  time.Duration

	// restoreBrightness is what the teardown blink returns to.
	restoreBrightness float64

	// hub is the optional state monitor; nil when disabled.
	hub *monitorHub

	sleep func(time.Duration)
}

// run drives the loop until ctx is canceled, then performs the shutdown
// sequence. Cancellation is observed at iteration granularity only; the
// intra-iteration sleeps (row settle, LED flash) are bounded and short.
func (c *controller) run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.logger.Info("control loop running", "tick", c.tick)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("control loop stopping")
			c.shutdown()
			return nil

		case now := <-ticker.C:
			c.iterate(now)
		}
	}
}

// iterate performs one pass: physical reads first, all derived effects
// after, never interleaved.
func (c *controller) iterate(now time.Time) {
	c.matrix.Scan()
	delta := c.encoder.Update()

	pressed := playableKeys(c.matrix.PressedKeys())

	cmds := dispatch(c.state, tickInput{pressed: pressed, delta: delta, now: now})
	for _, cmd := range cmds {
		c.execute(cmd)
	}

	if c.hub != nil && len(cmds) > 0 {
		c.hub.SetSnapshot(c.snapshot(pressed))
	}
}

// snapshot captures the current session state for monitor clients.
func (c *controller) snapshot(pressed []int) monitorSnapshot {
	return monitorSnapshot{
		Layer:     c.state.layerNum,
		LayerName: c.state.layerName,
		Channel:   c.state.channel,
		Values:    c.state.values,
		Pressed:   append([]int(nil), pressed...),
	}
}

// playableKeys filters the scanner's switch set down to the 16 playable
// keys; the encoder push switch and the spare key stay out of the note
// pipeline.
func playableKeys(all []int) []int {
	var keys []int
	for _, k := range all {
		if k < numPlayableKeys {
			keys = append(keys, k)
		}
	}
	return keys
}

// execute performs a single dispatch-emitted command. Send failures are
// logged and otherwise ignored; nothing here may stall the loop beyond the
// bounded flash sleep.
func (c *controller) execute(cmd command) {
	switch cmd := cmd.(type) {
	case cmdNoteOn:
		if err := c.notes.Play(cmd.Note, cmd.Velocity, cmd.Channel); err != nil {
			c.logger.Error("note on failed", "key", cmd.Key, "note", cmd.Note, "error", err)
			return
		}
		c.logger.Debug("note on", "key", cmd.Key, "note", cmd.Note)
		c.publish(monitorKeyPressed{Key: cmd.Key, Note: cmd.Note})

	case cmdNoteOff:
		if err := c.notes.Stop(cmd.Note, cmd.Channel); err != nil {
			c.logger.Error("note off failed", "key", cmd.Key, "note", cmd.Note, "error", err)
			return
		}
		c.logger.Debug("note off", "key", cmd.Key, "note", cmd.Note)
		c.publish(monitorKeyReleased{Key: cmd.Key, Note: cmd.Note})

	case cmdControlChange:
		if err := c.midi.ControlChange(cmd.Controller, cmd.Value, cmd.Channel); err != nil {
			c.logger.Error("control change failed", "key", cmd.Key, "cc", cmd.Controller, "error", err)
			return
		}
		c.logger.Debug("control change", "key", cmd.Key, "cc", cmd.Controller, "value", cmd.Value)
		c.publish(monitorValueChanged{Key: cmd.Key, Controller: cmd.Controller, Value: cmd.Value})

	case cmdFlashKey:
		c.leds.SetKeyColor(cmd.Key, colorWhite)
		_ = c.leds.Show()
		c.sleep(keyFlashDuration)
		c.leds.SetKeyValue(cmd.Key, cmd.Value)
		_ = c.leds.Show()

	case cmdSetKeyValue:
		c.leds.SetKeyValue(cmd.Key, cmd.Value)

	case cmdShowLEDs:
		if err := c.leds.Show(); err != nil {
			c.logger.Error("led flush failed", "error", err)
		}

	case cmdShowStatus:
		c.disp.ShowFullStatus(
			c.state.layerNum,
			c.state.layerName,
			keyParamNames[cmd.Key],
			cmd.Value,
			keyToCC[cmd.Key],
			c.state.channel,
		)

	case cmdShowLayer:
		c.disp.ShowLayer(c.state.layerNum, c.state.layerName)

	default:
		c.logger.Warn("unknown command", "command", cmd.String())
	}
}

// publish hands a state change to the monitor hub, if one is running.
func (c *controller) publish(ev monitorEvent) {
	if c.hub != nil {
		c.hub.Publish(ev)
	}
}

// shutdown flushes any sounding notes, runs the teardown animation, and
// releases collaborators: display, MIDI, LEDs, encoder, scanner. The order
// matters — it decides which peripherals end up in a safe resting state.
func (c *controller) shutdown() {
	c.disp.ShowMessage("Shutting\ndown...", 0)

	if err := c.notes.StopAll(c.state.channel); err != nil {
		c.logger.Error("stop all notes failed", "error", err)
	}

	for i := 0; i < teardownBlinkCount; i++ {
		_ = c.leds.SetBrightness(0.05)
		c.sleep(teardownBlinkPeriod)
		_ = c.leds.SetBrightness(c.restoreBrightness)
		c.sleep(teardownBlinkPeriod)
	}

	if err := c.disp.Close(); err != nil {
		c.logger.Error("display close failed", "error", err)
	}

	// Defensive all-notes-off sweep before the port goes away.
	if err := c.midi.Shutdown(); err != nil {
		c.logger.Error("all-notes-off sweep failed", "error", err)
	}
	if c.midiCloser != nil {
		if err := c.midiCloser.Close(); err != nil {
			c.logger.Error("midi port close failed", "error", err)
		}
	}

	if err := c.leds.Close(); err != nil {
		c.logger.Error("led close failed", "error", err)
	}
	if err := c.encoder.Close(); err != nil {
		c.logger.Error("encoder close failed", "error", err)
	}
	if err := c.matrix.Close(); err != nil {
		c.logger.Error("matrix close failed", "error", err)
	}

	c.logger.Info("shutdown complete")
}
