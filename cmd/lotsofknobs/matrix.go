package main

import "time"

// matrixPins abstracts the electrical surface of the key matrix so the
// scanner can be exercised without hardware.
type matrixPins interface {
	// DriveRow pulls the row line to its active (low) level while true.
	DriveRow(row int, active bool)
	// ReadColumns returns a bitmask of closed contacts: bit i set means
	// column i currently conducts to the active row.
	ReadColumns() uint64
	Close() error
}

// keyMap maps (row, col) to a switch index; -1 marks an unconnected cell.
//
// Physical layout:
//
//	        col0  col1  col2  col3  col4
//	row0 |  key0  key1  key2  key3  encoder_sw
//	row1 |  key4  key5  key6  key7  -
//	row2 |  key8  key9  key10 key11 -
//	row3 |  key12 key13 key14 key15 key16
//
// The matrix has no per-switch diodes, so three held keys sharing rows and
// columns can ghost a fourth. That is a wiring limitation, not something
// this layer can detect or correct.
var keyMap = [numRows][numCols]int{
	{0, 1, 2, 3, encoderSwitch},
	{4, 5, 6, 7, -1},
	{8, 9, 10, 11, -1},
	{12, 13, 14, 15, 16},
}

// keyMatrix scans the switch grid and debounces every switch.
//
// Owned by the control loop goroutine; Scan must not be called concurrently.
type keyMatrix struct {
	pins     matrixPins
	debounce time.Duration
	settle   time.Duration

	states     [numSwitches]bool
	lastChange [numSwitches]time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

func newKeyMatrix(pins matrixPins, debounce, settle time.Duration) *keyMatrix {
	return &keyMatrix{
		pins:     pins,
		debounce: debounce,
		settle:   settle,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Scan reads every switch once and updates the debounced states.
//
// Each row is driven active in turn, the columns are sampled after a short
// settle delay, and the row is released before moving on. A raw transition
// is committed only if it still differs from the stable state once the
// debounce interval has passed since the last committed change, so a
// flicker that settles back within the interval produces no edge.
func (m *keyMatrix) Scan() {
	now := m.now()

	for row := 0; row < numRows; row++ {
		m.pins.DriveRow(row, true)
		if m.settle > 0 {
			m.sleep(m.settle)
		}

		closed := m.pins.ReadColumns()
		for col := 0; col < numCols; col++ {
			key := keyMap[row][col]
			if key < 0 {
				continue
			}

			rawPressed := closed&(1<<col) != 0
			if rawPressed != m.states[key] && now.Sub(m.lastChange[key]) > m.debounce {
				m.states[key] = rawPressed
				m.lastChange[key] = now
			}
		}

		m.pins.DriveRow(row, false)
	}
}

// IsPressed reports the debounced state of one switch.
func (m *keyMatrix) IsPressed(key int) bool {
	if key < 0 || key >= numSwitches {
		return false
	}
	return m.states[key]
}

// PressedKeys returns the debounced pressed switches in ascending order.
func (m *keyMatrix) PressedKeys() []int {
	var pressed []int
	for i := 0; i < numSwitches; i++ {
		if m.states[i] {
			pressed = append(pressed, i)
		}
	}
	return pressed
}

// EncoderSwitchPressed reports the debounced state of the encoder push switch.
func (m *keyMatrix) EncoderSwitchPressed() bool {
	return m.IsPressed(encoderSwitch)
}

func (m *keyMatrix) Close() error {
	return m.pins.Close()
}
