package main

import "time"

// pixelStrand is the raw LED chain: an addressable buffer plus a flush.
// Production uses the WS2812-over-spidev backend; tests substitute a
// recorder.
type pixelStrand interface {
	SetPixel(i int, c rgb)
	// Show pushes the buffered colors out to the chain.
	Show() error
	SetBrightness(b float64)
	Close() error
}

// rgb is an 8-bit-per-channel color.
type rgb struct {
	R, G, B uint8
}

var colorWhite = rgb{255, 255, 255}

// keyToLED maps key index to position on the LED data chain. The chain
// snakes through the board (serpentine wiring), so the first row runs
// right-to-left, the second left-to-right, and so on. These values encode
// the physical wiring and must not be recomputed.
var keyToLED = [numPlayableKeys]int{
	3, 2, 1, 0,
	4, 5, 6, 7,
	11, 10, 9, 8,
	12, 13, 14, 15,
}

// CC value color ramp: hue runs blue (240deg, value 0) down to red (0deg,
// value 127), with brightness rising from 30% to 100%.
const (
	valueHueMin = 240.0
	valueHueMax = 0.0
)

// ledController renders per-key state on the LED chain. It owns the
// value-to-color mapping; callers only decide when a key changes.
type ledController struct {
	strand     pixelStrand
	brightness float64

	sleep func(time.Duration)
}

func newLEDController(strand pixelStrand, brightness float64) *ledController {
	c := &ledController{
		strand:     strand,
		brightness: clampFloat(brightness, 0, 1),
		sleep:      time.Sleep,
	}
	c.strand.SetBrightness(c.brightness)
	return c
}

// SetLEDColor sets one LED by chain position.
func (c *ledController) SetLEDColor(led int, color rgb) {
	if led < 0 || led >= numLEDs {
		return
	}
	c.strand.SetPixel(led, color)
}

// SetKeyColor sets the LED behind a key, going through the serpentine map.
func (c *ledController) SetKeyColor(key int, color rgb) {
	if key < 0 || key >= numPlayableKeys {
		return
	}
	c.SetLEDColor(keyToLED[key], color)
}

// SetKeyValue renders a CC value (0-127) on a key's LED: low values are
// dim blue, high values bright red.
func (c *ledController) SetKeyValue(key, value int) {
	if key < 0 || key >= numPlayableKeys {
		return
	}

	normalized := float64(clamp(value, 0, 127)) / 127.0
	hue := valueHueMin - (valueHueMin-valueHueMax)*normalized
	brightness := 0.3 + 0.7*normalized

	c.SetKeyColor(key, hsvToRGB(hue, 1.0, brightness))
}

// SetAllValue renders the same CC value on every key.
func (c *ledController) SetAllValue(value int) {
	for key := 0; key < numPlayableKeys; key++ {
		c.SetKeyValue(key, value)
	}
}

// Clear blanks the chain immediately.
func (c *ledController) Clear() error {
	for i := 0; i < numLEDs; i++ {
		c.strand.SetPixel(i, rgb{})
	}
	return c.strand.Show()
}

// Show flushes buffered colors to the chain.
func (c *ledController) Show() error {
	return c.strand.Show()
}

// SetBrightness rescales the whole chain and flushes.
func (c *ledController) SetBrightness(b float64) error {
	c.brightness = clampFloat(b, 0, 1)
	c.strand.SetBrightness(c.brightness)
	return c.strand.Show()
}

// Brightness returns the current whole-chain brightness.
func (c *ledController) Brightness() float64 {
	return c.brightness
}

// RainbowCycle runs the startup animation: a moving rainbow over the whole
// chain for roughly the given duration. Blocking.
func (c *ledController) RainbowCycle(duration time.Duration) {
	const steps = 50
	stepTime := duration / steps

	for i := 0; i < steps; i++ {
		for led := 0; led < numLEDs; led++ {
			hue := float64(360/numLEDs*led+i*7)
			for hue >= 360 {
				hue -= 360
			}
			c.SetLEDColor(led, hsvToRGB(hue, 1.0, 0.5))
		}
		if err := c.strand.Show(); err != nil {
			return
		}
		c.sleep(stepTime)
	}
}

func (c *ledController) Close() error {
	_ = c.Clear()
	return c.strand.Close()
}

// hsvToRGB converts hue (0-360), saturation and value (0-1) to 8-bit RGB.
func hsvToRGB(h, s, v float64) rgb {
	h = h / 360.0

	if s == 0 {
		val := uint8(v * 255)
		return rgb{val, val, val}
	}

	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return rgb{uint8(r * 255), uint8(g * 255), uint8(b * 255)}
}

func clampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
