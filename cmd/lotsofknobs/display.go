package main

import (
	"log/slog"
	"time"
)

// display is the status screen contract consumed by the control loop.
// Rendering, layout and rotation are entirely the implementation's concern;
// the loop only decides when something is worth showing.
type display interface {
	ShowStartup()
	// ShowLayer renders the idle view for the active layer.
	ShowLayer(layerNum int, layerName string)
	// ShowFullStatus renders the per-key detail view.
	ShowFullStatus(layerNum int, layerName, paramName string, value, ccNum, channel int)
	// ShowMessage renders free text; a non-zero duration keeps it on
	// screen (blocking) before the caller continues.
	ShowMessage(text string, duration time.Duration)
	Close() error
}

// consoleDisplay renders status through the structured log. It stands in
// for the OLED when running headless or under test, and keeps the loop's
// display call sites honest.
type consoleDisplay struct {
	logger *slog.Logger
	sleep  func(time.Duration)
}

func newConsoleDisplay(logger *slog.Logger) *consoleDisplay {
	return &consoleDisplay{
		logger: logger,
		sleep:  time.Sleep,
	}
}

func (d *consoleDisplay) ShowStartup() {
	d.logger.Info("display: startup")
}

func (d *consoleDisplay) ShowLayer(layerNum int, layerName string) {
	d.logger.Info("display: layer view", "layer", layerNum, "name", layerName)
}

func (d *consoleDisplay) ShowFullStatus(layerNum int, layerName, paramName string, value, ccNum, channel int) {
	d.logger.Info("display: status",
		"layer", layerNum,
		"layer_name", layerName,
		"param", paramName,
		"value", value,
		"cc", ccNum,
		"channel", channel)
}

func (d *consoleDisplay) ShowMessage(text string, duration time.Duration) {
	d.logger.Info("display: message", "text", text)
	if duration > 0 {
		d.sleep(duration)
	}
}

func (d *consoleDisplay) Close() error {
	return nil
}
