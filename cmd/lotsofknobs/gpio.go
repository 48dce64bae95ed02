package main

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ============================================================================
// GPIO character device access (linux/gpio.h, uAPI v2)
// ============================================================================
//
// The matrix rows/columns and the encoder phases are plain GPIO lines on a
// gpiochip character device. We request them in groups (one request per
// direction) so a whole column bank or both encoder phases can be read with
// a single ioctl per poll.
//
// Only the small subset of the v2 uAPI we need is declared here.
// ============================================================================

const (
	gpioV2LinesMax        = 64
	gpioV2LineNumAttrsMax = 10

	gpioV2LineFlagInput      = 1 << 2
	gpioV2LineFlagOutput     = 1 << 3
	gpioV2LineFlagBiasPullUp = 1 << 8

	gpioV2LineAttrIDOutputValues = 2
)

// gpioV2LineAttribute mirrors struct gpio_v2_line_attribute.
type gpioV2LineAttribute struct {
	ID      uint32
	Padding uint32
	Value   uint64
}

// gpioV2LineConfigAttribute mirrors struct gpio_v2_line_config_attribute.
type gpioV2LineConfigAttribute struct {
	Attr gpioV2LineAttribute
	Mask uint64
}

// gpioV2LineConfig mirrors struct gpio_v2_line_config.
type gpioV2LineConfig struct {
	Flags    uint64
	NumAttrs uint32
	Padding  [5]uint32
	Attrs    [gpioV2LineNumAttrsMax]gpioV2LineConfigAttribute
}

// gpioV2LineRequest mirrors struct gpio_v2_line_request.
type gpioV2LineRequest struct {
	Offsets         [gpioV2LinesMax]uint32
	Consumer        [32]byte
	Config          gpioV2LineConfig
	NumLines        uint32
	EventBufferSize uint32
	Padding         [5]uint32
	Fd              int32
}

// gpioV2LineValues mirrors struct gpio_v2_line_values.
type gpioV2LineValues struct {
	Bits uint64
	Mask uint64
}

// ioWR computes _IOWR(0xB4, nr, size) for the GPIO ioctl family.
func ioWR(nr, size uintptr) uintptr {
	const iocReadWrite = 3
	return (iocReadWrite << 30) | (size << 16) | (0xB4 << 8) | nr
}

func gpioGetLineIoctl() uintptr { return ioWR(0x07, unsafe.Sizeof(gpioV2LineRequest{})) }

func gpioLineGetValuesIoctl() uintptr { return ioWR(0x0E, unsafe.Sizeof(gpioV2LineValues{})) }

func gpioLineSetValuesIoctl() uintptr { return ioWR(0x0F, unsafe.Sizeof(gpioV2LineValues{})) }

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// lineGroup owns a set of GPIO lines requested together from a gpiochip.
// All lines in a group share direction and bias.
type lineGroup struct {
	fd   int
	mask uint64
}

func requestLines(chip string, offsets []uint32, cfg gpioV2LineConfig, consumer string) (*lineGroup, error) {
	if len(offsets) == 0 || len(offsets) > gpioV2LinesMax {
		return nil, fmt.Errorf("requestLines: invalid line count %d", len(offsets))
	}

	chipFd, err := unix.Open(chip, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chip, err)
	}
	defer unix.Close(chipFd)

	var req gpioV2LineRequest
	copy(req.Offsets[:], offsets)
	copy(req.Consumer[:], consumer)
	req.Config = cfg
	req.NumLines = uint32(len(offsets))

	if err := ioctl(chipFd, gpioGetLineIoctl(), unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("request %d lines on %s: %w", len(offsets), chip, err)
	}

	return &lineGroup{
		fd:   int(req.Fd),
		mask: (uint64(1) << len(offsets)) - 1,
	}, nil
}

// requestInputLines requests a bank of pull-up input lines.
func requestInputLines(chip string, offsets []uint32, consumer string) (*lineGroup, error) {
	cfg := gpioV2LineConfig{
		Flags: gpioV2LineFlagInput | gpioV2LineFlagBiasPullUp,
	}
	return requestLines(chip, offsets, cfg, consumer)
}

// requestOutputLines requests a bank of output lines driven to initialBits
// (bit i corresponds to offsets[i]).
func requestOutputLines(chip string, offsets []uint32, initialBits uint64, consumer string) (*lineGroup, error) {
	cfg := gpioV2LineConfig{
		Flags:    gpioV2LineFlagOutput,
		NumAttrs: 1,
	}
	cfg.Attrs[0] = gpioV2LineConfigAttribute{
		Attr: gpioV2LineAttribute{
			ID:    gpioV2LineAttrIDOutputValues,
			Value: initialBits,
		},
		Mask: (uint64(1) << len(offsets)) - 1,
	}
	return requestLines(chip, offsets, cfg, consumer)
}

// getAll reads every line in the group. Bit i is the electrical level of
// offsets[i] (true = high).
func (g *lineGroup) getAll() (uint64, error) {
	v := gpioV2LineValues{Mask: g.mask}
	if err := ioctl(g.fd, gpioLineGetValuesIoctl(), unsafe.Pointer(&v)); err != nil {
		return 0, fmt.Errorf("get line values: %w", err)
	}
	return v.Bits & g.mask, nil
}

// set drives a single line in the group.
func (g *lineGroup) set(i int, high bool) error {
	v := gpioV2LineValues{Mask: uint64(1) << i}
	if high {
		v.Bits = v.Mask
	}
	if err := ioctl(g.fd, gpioLineSetValuesIoctl(), unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("set line %d: %w", i, err)
	}
	return nil
}

func (g *lineGroup) Close() error {
	return unix.Close(g.fd)
}

// ============================================================================
// Hardware pin banks for the scanner and the encoder
// ============================================================================

// gpioMatrixPins drives the key matrix: rows as outputs (idle high, driven
// low while scanned), columns as pull-up inputs.
type gpioMatrixPins struct {
	rows *lineGroup
	cols *lineGroup

	// Last good column reading, returned if an ioctl fails mid-scan.
	// Electrical faults are unrecoverable at this layer.
	lastCols uint64
}

func openMatrixPins(chip string, rowOffsets, colOffsets []uint32) (*gpioMatrixPins, error) {
	allHigh := (uint64(1) << len(rowOffsets)) - 1
	rows, err := requestOutputLines(chip, rowOffsets, allHigh, "lotsofknobs-rows")
	if err != nil {
		return nil, fmt.Errorf("matrix rows: %w", err)
	}
	cols, err := requestInputLines(chip, colOffsets, "lotsofknobs-cols")
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("matrix cols: %w", err)
	}
	return &gpioMatrixPins{rows: rows, cols: cols}, nil
}

// DriveRow pulls the given row line low when active, releases it high when not.
func (p *gpioMatrixPins) DriveRow(row int, active bool) {
	_ = p.rows.set(row, !active)
}

// ReadColumns returns a bitmask of closed contacts on the active row:
// bit i set means column i reads low (switch pressed).
func (p *gpioMatrixPins) ReadColumns() uint64 {
	raw, err := p.cols.getAll()
	if err != nil {
		return p.lastCols
	}
	p.lastCols = ^raw & p.cols.mask
	return p.lastCols
}

func (p *gpioMatrixPins) Close() error {
	err := p.rows.Close()
	if cerr := p.cols.Close(); err == nil {
		err = cerr
	}
	return err
}

// gpioEncoderPins reads the encoder's two phases (pull-up inputs) in a
// single ioctl per poll.
type gpioEncoderPins struct {
	lines *lineGroup
	last  uint64
}

func openEncoderPins(chip string, clkOffset, dtOffset uint32) (*gpioEncoderPins, error) {
	lines, err := requestInputLines(chip, []uint32{clkOffset, dtOffset}, "lotsofknobs-encoder")
	if err != nil {
		return nil, fmt.Errorf("encoder phases: %w", err)
	}
	return &gpioEncoderPins{lines: lines, last: 0b11}, nil
}

// ReadPhases returns the electrical levels of phase A (CLK) and phase B (DT).
func (p *gpioEncoderPins) ReadPhases() (a, b bool) {
	bits, err := p.lines.getAll()
	if err != nil {
		bits = p.last
	} else {
		p.last = bits
	}
	return bits&1 != 0, bits&2 != 0
}

func (p *gpioEncoderPins) Close() error {
	return p.lines.Close()
}
