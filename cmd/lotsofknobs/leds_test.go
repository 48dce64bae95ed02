package main

import "testing"

// fakeStrand records pixel writes and flushes so tests can assert both
// colors and ordering.
type fakeStrand struct {
	pixels     [numLEDs]rgb
	brightness float64

	showCalls int
	// history records (pixel index, color) pairs in write order.
	history []struct {
		idx   int
		color rgb
	}
	closed bool
}

func (f *fakeStrand) SetPixel(i int, c rgb) {
	if i < 0 || i >= numLEDs {
		return
	}
	f.pixels[i] = c
	f.history = append(f.history, struct {
		idx   int
		color rgb
	}{i, c})
}

func (f *fakeStrand) Show() error {
	f.showCalls++
	return nil
}

func (f *fakeStrand) SetBrightness(b float64) { f.brightness = b }

func (f *fakeStrand) Close() error {
	f.closed = true
	return nil
}

func TestLEDController_SerpentineMapping(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	// First row is wired right-to-left: key 0 sits on chain position 3.
	c.SetKeyColor(0, colorWhite)
	if strand.pixels[3] != colorWhite {
		t.Fatalf("key 0 should light chain position 3, pixels = %v", strand.pixels)
	}

	// Second row runs left-to-right: key 4 is chain position 4.
	c.SetKeyColor(4, colorWhite)
	if strand.pixels[4] != colorWhite {
		t.Fatal("key 4 should light chain position 4")
	}

	// Third row flips again: key 8 is chain position 11.
	c.SetKeyColor(8, colorWhite)
	if strand.pixels[11] != colorWhite {
		t.Fatal("key 8 should light chain position 11")
	}
}

func TestLEDController_ValueColorEndpoints(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	// Value 0: hue 240 (blue) at 30% brightness.
	c.SetKeyValue(0, 0)
	low := strand.pixels[keyToLED[0]]
	if low.B == 0 || low.R != 0 {
		t.Fatalf("value 0 should be blue, got %+v", low)
	}

	// Value 127: hue 0 (red) at full brightness.
	c.SetKeyValue(0, 127)
	high := strand.pixels[keyToLED[0]]
	if high.R != 255 || high.G != 0 || high.B != 0 {
		t.Fatalf("value 127 should be full red, got %+v", high)
	}
}

func TestLEDController_ValueBrightnessScalesUp(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	c.SetKeyValue(0, 0)
	dim := strand.pixels[keyToLED[0]]
	c.SetKeyValue(0, 40)
	brighter := strand.pixels[keyToLED[0]]

	if int(brighter.R)+int(brighter.G)+int(brighter.B) <= int(dim.R)+int(dim.G)+int(dim.B) {
		t.Fatalf("higher value should be brighter: %+v vs %+v", dim, brighter)
	}
}

func TestLEDController_SetAllValue(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	c.SetAllValue(64)

	want := strand.pixels[keyToLED[0]]
	for key := 1; key < numPlayableKeys; key++ {
		if strand.pixels[keyToLED[key]] != want {
			t.Fatalf("key %d color differs from key 0", key)
		}
	}
}

func TestLEDController_ClearBlanksAndFlushes(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	c.SetAllValue(127)
	shows := strand.showCalls

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for i, px := range strand.pixels {
		if px != (rgb{}) {
			t.Fatalf("pixel %d not blanked: %+v", i, px)
		}
	}
	if strand.showCalls != shows+1 {
		t.Fatal("Clear must flush")
	}
}

func TestLEDController_SetBrightnessFlushes(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)
	shows := strand.showCalls

	if err := c.SetBrightness(0.05); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	if strand.brightness != 0.05 {
		t.Fatalf("strand brightness = %v, want 0.05", strand.brightness)
	}
	if strand.showCalls != shows+1 {
		t.Fatal("SetBrightness must re-flush the chain")
	}
	if c.Brightness() != 0.05 {
		t.Fatalf("Brightness = %v, want 0.05", c.Brightness())
	}
}

func TestLEDController_IgnoresOutOfRangeKeys(t *testing.T) {
	strand := &fakeStrand{}
	c := newLEDController(strand, defaultBrightness)

	c.SetKeyColor(-1, colorWhite)
	c.SetKeyColor(numPlayableKeys, colorWhite)
	c.SetKeyValue(99, 64)

	if len(strand.history) != 0 {
		t.Fatalf("out-of-range keys wrote %d pixels", len(strand.history))
	}
}

func TestHSVToRGB(t *testing.T) {
	cases := []struct {
		h, s, v float64
		want    rgb
	}{
		{0, 1, 1, rgb{255, 0, 0}},     // red
		{120, 1, 1, rgb{0, 255, 0}},   // green
		{240, 1, 1, rgb{0, 0, 255}},   // blue
		{0, 0, 1, rgb{255, 255, 255}}, // desaturated = white
		{0, 1, 0, rgb{0, 0, 0}},       // zero value = black
	}

	for _, tc := range cases {
		if got := hsvToRGB(tc.h, tc.s, tc.v); got != tc.want {
			t.Errorf("hsvToRGB(%v, %v, %v) = %+v, want %+v", tc.h, tc.s, tc.v, got, tc.want)
		}
	}
}

func TestSPIEncoding(t *testing.T) {
	s := &spiStrand{
		pixels:     make([]rgb, 1),
		brightness: 1.0,
	}
	s.pixels[0] = rgb{R: 255, G: 0, B: 0}

	s.encode()

	// One pixel = 24 WS2812 bits = 72 SPI bits = 9 bytes, plus reset tail.
	if len(s.buf) != 9+spiResetBytes {
		t.Fatalf("encoded %d bytes, want %d", len(s.buf), 9+spiResetBytes)
	}

	// Wire order is GRB: the first 3 bytes carry G=0 (all 100 symbols).
	want0 := []byte{0b10010010, 0b01001001, 0b00100100}
	for i, b := range want0 {
		if s.buf[i] != b {
			t.Fatalf("G byte %d = %08b, want %08b", i, s.buf[i], b)
		}
	}

	// Next 3 bytes carry R=255 (all 110 symbols).
	want1 := []byte{0b11011011, 0b01101101, 0b10110110}
	for i, b := range want1 {
		if s.buf[3+i] != b {
			t.Fatalf("R byte %d = %08b, want %08b", i, s.buf[3+i], b)
		}
	}

	// Tail must be zeros to latch the chain.
	for i := 9; i < len(s.buf); i++ {
		if s.buf[i] != 0 {
			t.Fatalf("reset byte %d = %#x, want 0", i, s.buf[i])
		}
	}
}
