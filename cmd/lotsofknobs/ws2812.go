package main

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ============================================================================
// WS2812 chain over spidev
// ============================================================================
//
// WS2812 pixels want a self-clocked 800kHz bitstream with tight pulse-width
// tolerances. Bit-banging that from userspace is hopeless, but an SPI
// controller clocked at 2.4MHz does it for free: each WS2812 bit becomes
// three SPI bits (0 -> 100, 1 -> 110), and MOSI reproduces the waveform
// exactly. Color order on the wire is GRB.
// ============================================================================

const (
	spiSpeedHz = 2400000

	// Trailing low time latches the chain; 60 zero bytes at 2.4MHz is
	// well past the 50us reset threshold.
	spiResetBytes = 60
)

// ioW computes _IOW('k', nr, size) for the spidev ioctl family.
func ioW(nr, size uintptr) uintptr {
	const iocWrite = 1
	return (iocWrite << 30) | (size << 16) | (0x6b << 8) | nr
}

func spiWrModeIoctl() uintptr { return ioW(1, 1) }

func spiWrBitsPerWordIoctl() uintptr { return ioW(3, 1) }

func spiWrMaxSpeedIoctl() uintptr { return ioW(4, 4) }

// spiStrand is the spidev-backed pixelStrand.
type spiStrand struct {
	fd     int
	pixels []rgb

	brightness float64
	buf        []byte
}

func openSPIStrand(path string, count int) (*spiStrand, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	mode := uint8(0)
	if err := ioctl(fd, spiWrModeIoctl(), unsafe.Pointer(&mode)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set spi mode: %w", err)
	}
	bits := uint8(8)
	if err := ioctl(fd, spiWrBitsPerWordIoctl(), unsafe.Pointer(&bits)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set spi bits per word: %w", err)
	}
	speed := uint32(spiSpeedHz)
	if err := ioctl(fd, spiWrMaxSpeedIoctl(), unsafe.Pointer(&speed)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set spi speed: %w", err)
	}

	return &spiStrand{
		fd:         fd,
		pixels:     make([]rgb, count),
		brightness: 1.0,
		buf:        make([]byte, 0, count*9+spiResetBytes),
	}, nil
}

func (s *spiStrand) SetPixel(i int, c rgb) {
	if i < 0 || i >= len(s.pixels) {
		return
	}
	s.pixels[i] = c
}

func (s *spiStrand) SetBrightness(b float64) {
	s.brightness = clampFloat(b, 0, 1)
}

// Show encodes the pixel buffer into the SPI waveform and writes it out in
// one syscall so the chain sees an uninterrupted stream.
func (s *spiStrand) Show() error {
	s.encode()
	if _, err := unix.Write(s.fd, s.buf); err != nil {
		return fmt.Errorf("spi write: %w", err)
	}
	return nil
}

func (s *spiStrand) encode() {
	s.buf = s.buf[:0]

	var acc uint32
	accBits := 0
	pushSym := func(sym uint32) {
		acc = acc<<3 | sym
		accBits += 3
		for accBits >= 8 {
			accBits -= 8
			s.buf = append(s.buf, byte(acc>>accBits))
		}
	}
	pushByte := func(b uint8) {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<bit) != 0 {
				pushSym(0b110)
			} else {
				pushSym(0b100)
			}
		}
	}

	for _, px := range s.pixels {
		// GRB, brightness folded in at encode time.
		pushByte(scale8(px.G, s.brightness))
		pushByte(scale8(px.R, s.brightness))
		pushByte(scale8(px.B, s.brightness))
	}

	// 24 bits * 3 symbols is a whole number of bytes; accBits is 0 here.
	for i := 0; i < spiResetBytes; i++ {
		s.buf = append(s.buf, 0)
	}
}

func (s *spiStrand) Close() error {
	return unix.Close(s.fd)
}

func scale8(v uint8, factor float64) uint8 {
	return uint8(float64(v) * factor)
}
