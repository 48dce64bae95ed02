package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("lotsofknobs v%s\n", version)
	fmt.Println("USB-MIDI controller daemon: 4x5 key matrix, rotary encoder, RGB LEDs")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  lotsofknobs [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that scans a 4x5 switch matrix and a quadrature rotary encoder")
	fmt.Println("  over GPIO, sends MIDI notes and control changes to a MIDI output port,")
	fmt.Println("  and mirrors per-key values on a WS2812 LED chain. Holding keys while")
	fmt.Println("  turning the encoder adjusts the held keys' controller values.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -matrix-chip string")
	fmt.Println("        GPIO character device for the key matrix (default \"/dev/gpiochip0\")")
	fmt.Println()
	fmt.Println("  -encoder-chip string")
	fmt.Println("        GPIO character device for the encoder (default \"/dev/gpiochip0\")")
	fmt.Println()
	fmt.Println("  -midi-port string")
	fmt.Println("        MIDI output port name substring (default: first available port)")
	fmt.Println()
	fmt.Println("  -midi-channel int")
	fmt.Printf("        MIDI channel 1-16 (default %d)\n", defaultMIDIChannel)
	fmt.Println()
	fmt.Println("  -midi-velocity int")
	fmt.Printf("        Note-on velocity 0-127 (default %d)\n", defaultNoteVelocity)
	fmt.Println()
	fmt.Println("  -brightness float")
	fmt.Printf("        LED chain brightness 0.0-1.0 (default %.1f)\n", defaultBrightness)
	fmt.Println()
	fmt.Println("  -tick-ms int")
	fmt.Printf("        Control loop tick period in ms (default %d)\n", int(defaultTickPeriod/time.Millisecond))
	fmt.Println()
	fmt.Println("  -monitor-listen string")
	fmt.Println("        Enable the WebSocket state monitor on this address (e.g. 127.0.0.1:3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with default settings (first MIDI output port)")
	fmt.Println("  lotsofknobs")
	fmt.Println()
	fmt.Println("  # Pick a synth by port name, channel 3")
	fmt.Println("  lotsofknobs -midi-port fluid -midi-channel 3")
	fmt.Println()
	fmt.Println("  # Config file with ad-hoc log level override")
	fmt.Println("  lotsofknobs -config /etc/lotsofknobs.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires access to the gpiochip and spidev devices (run as root or")
	fmt.Println("    add the user to the 'gpio' and 'spi' groups)")
	fmt.Println("  - Key-to-note mapping is chromatic from C4 (60); keys map to CC#1-16")
	fmt.Println()
}

func main() {
	// Check for version/help early so hardware is never touched.
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		matrixChip  = flag.String("matrix-chip", "/dev/gpiochip0", "GPIO character device for the key matrix")
		encoderChip = flag.String("encoder-chip", "/dev/gpiochip0", "GPIO character device for the encoder")

		midiPortName = flag.String("midi-port", "", "MIDI output port name substring (empty = first port)")
		midiChannel  = flag.Int("midi-channel", defaultMIDIChannel, "MIDI channel 1-16")
		midiVelocity = flag.Int("midi-velocity", defaultNoteVelocity, "Note-on velocity 0-127")

		brightness = flag.Float64("brightness", defaultBrightness, "LED chain brightness 0.0-1.0")
		tickMS     = flag.Int("tick-ms", int(defaultTickPeriod/time.Millisecond), "Control loop tick period in ms")

		monitorListen = flag.String("monitor-listen", "", "WebSocket state monitor listen address (empty = disabled)")

		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, then explicitly-set flags on top.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "matrix-chip":
			overrides.MatrixChip = matrixChip
		case "encoder-chip":
			overrides.EncoderChip = encoderChip
		case "midi-port":
			overrides.MIDIPortName = midiPortName
		case "midi-channel":
			overrides.MIDIChannel = midiChannel
		case "midi-velocity":
			overrides.MIDIVelocity = midiVelocity
		case "brightness":
			overrides.LEDBrightness = brightness
		case "tick-ms":
			overrides.LoopTickMS = tickMS
		case "monitor-listen":
			enabled := *monitorListen != ""
			overrides.MonitorEnabled = &enabled
			overrides.MonitorListen = monitorListen
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run brings up the peripherals in order (display, scanner, encoder, LEDs,
// MIDI), plays the startup sequence and hands control to the loop. A failure
// in any peripheral aborts startup; the controller is not useful degraded.
func run(cfg Config, logger *slog.Logger) error {
	disp := newConsoleDisplay(logger)
	disp.ShowStartup()

	matrixHW, err := openMatrixPins(cfg.Matrix.Chip, cfg.Matrix.RowOffsets, cfg.Matrix.ColOffsets)
	if err != nil {
		return fmt.Errorf("open key matrix: %w", err)
	}
	matrix := newKeyMatrix(matrixHW,
		time.Duration(cfg.Matrix.DebounceMS)*time.Millisecond,
		time.Duration(cfg.Matrix.SettleUS)*time.Microsecond)

	encoderHW, err := openEncoderPins(cfg.Encoder.Chip, cfg.Encoder.ClkOffset, cfg.Encoder.DtOffset)
	if err != nil {
		matrix.Close()
		return fmt.Errorf("open encoder: %w", err)
	}
	rotary := newRotaryEncoder(encoderHW, cfg.Encoder.Acceleration)
	rotary.SetAccelerationTuning(
		time.Duration(cfg.Encoder.AccelThreshMS)*time.Millisecond,
		cfg.Encoder.AccelMultiplier)
	enc := newValueEncoder(rotary, defaultInitialValue)

	strand, err := openSPIStrand(cfg.LEDs.SPIDevice, numLEDs)
	if err != nil {
		enc.Close()
		matrix.Close()
		return fmt.Errorf("open led chain: %w", err)
	}
	leds := newLEDController(strand, cfg.LEDs.Brightness)

	drv, err := rtmididrv.New()
	if err != nil {
		leds.Close()
		enc.Close()
		matrix.Close()
		return fmt.Errorf("init midi driver: %w", err)
	}
	port, err := openMIDIOut(drv, cfg.MIDI.PortName)
	if err != nil {
		drv.Close()
		leds.Close()
		enc.Close()
		matrix.Close()
		return fmt.Errorf("open midi output: %w", err)
	}
	logger.Info("midi output open", "port", port.String(), "channel", cfg.MIDI.Channel)

	midi := newMIDIOut(port, cfg.MIDI.Channel)
	notes := newNoteTracker(midi)

	// Startup sequence: rainbow sweep, then every key at its initial value.
	leds.RainbowCycle(1500 * time.Millisecond)
	leds.SetAllValue(defaultInitialValue)
	if err := leds.Show(); err != nil {
		logger.Warn("initial led flush failed", "error", err)
	}

	state := newDispatchState(cfg.MIDI.Channel, cfg.MIDI.Velocity)

	disp.ShowMessage("Ready!", 500*time.Millisecond)
	disp.ShowLayer(state.layerNum, state.layerName)

	ctrl := &controller{
		logger:            logger,
		matrix:            matrix,
		encoder:           enc,
		leds:              leds,
		midi:              midi,
		notes:             notes,
		disp:              disp,
		midiCloser:        port,
		state:             state,
		tick:              time.Duration(cfg.Loop.TickMS) * time.Millisecond,
		restoreBrightness: cfg.LEDs.Brightness,
		sleep:             time.Sleep,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Monitor.Enabled {
		hub := newMonitorHub(logger)
		ctrl.hub = hub
		hub.SetSnapshot(ctrl.snapshot(nil))

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runMonitorServer(gctx, cfg.Monitor.Listen, logger, hub)
		})
	}

	g.Go(func() error {
		return ctrl.run(gctx)
	})

	err = g.Wait()
	drv.Close()
	return err
}
