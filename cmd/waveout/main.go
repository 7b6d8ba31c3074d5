package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/waveout/waveout/internal/audio"
	"github.com/waveout/waveout/internal/audio/gen"
	"github.com/waveout/waveout/internal/audio/sink"
	"github.com/waveout/waveout/internal/config"
	"github.com/waveout/waveout/internal/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var (
		backend  = flag.String("backend", "", "Sink backend (oto, malgo)")
		rate     = flag.Int("rate", 0, "Sample rate in Hz (11025, 22050, 44100)")
		bits     = flag.Int("bits", 0, "Bit depth (8 or 16)")
		channels = flag.Int("channels", 0, "Channel count (1 or 2)")
		frames   = flag.Int("frames", 0, "Ring buffer size in frames (power of two)")
		freq     = flag.Float64("freq", 0, "Tone frequency in Hz")
		wave     = flag.String("wave", "", "Waveform (sine, square)")
		duration = flag.Duration("duration", 3*time.Second, "Playback duration")
		logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		version  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("waveout %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg := config.Get()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Log.Level
	if *logLevel != "" {
		logConfig.Level = *logLevel
	}
	logConfig.File = cfg.Log.File
	logConfig.FilePath = cfg.Log.Path
	logger.Initialize(logConfig)

	// Flags override config file values.
	audioCfg := cfg.Audio
	if *backend != "" {
		audioCfg.Backend = *backend
	}
	if *rate != 0 {
		audioCfg.SampleRate = *rate
	}
	if *bits != 0 {
		audioCfg.BitDepth = *bits
	}
	if *channels != 0 {
		audioCfg.Channels = *channels
	}
	if *frames != 0 {
		audioCfg.BufferFrames = *frames
	}
	if *freq != 0 {
		audioCfg.ToneHz = *freq
	}
	if *wave != "" {
		audioCfg.Wave = *wave
	}

	logger.Info("waveout starting",
		logger.String("version", Version),
		logger.String("backend", audioCfg.Backend),
	)

	snk, err := sink.New(audioCfg.Backend)
	if err != nil {
		logger.Fatal("failed to create sink", logger.Error(err))
	}

	format := sink.Format{
		SampleRate: audioCfg.SampleRate,
		BitDepth:   audioCfg.BitDepth,
		Channels:   audioCfg.Channels,
	}

	var render audio.RenderFunc
	switch audioCfg.Wave {
	case "square":
		render = gen.Square(format, audioCfg.ToneHz)
	default:
		render = gen.Sine(format, audioCfg.ToneHz)
	}

	engine := audio.New(snk)
	streamCfg := audio.Config{
		SampleRate:   audioCfg.SampleRate,
		BitDepth:     audioCfg.BitDepth,
		Channels:     audioCfg.Channels,
		BufferFrames: audioCfg.BufferFrames,
		Render:       render,
	}

	if err := engine.Open(streamCfg); err != nil {
		logger.Fatal("failed to open wave output",
			logger.String("code", engine.LastError().String()),
			logger.Error(err),
		)
	}

	if err := engine.Start(); err != nil {
		_ = engine.Close()
		logger.Fatal("failed to start playback", logger.Error(err))
	}

	logger.Info("playing",
		logger.Float64("tone_hz", audioCfg.ToneHz),
		logger.String("wave", audioCfg.Wave),
		logger.Duration("duration", *duration),
	)
	time.Sleep(*duration)

	if err := engine.Close(); err != nil {
		logger.ErrorLog("close finished with error",
			logger.String("code", engine.LastError().String()),
			logger.Error(err),
		)
		os.Exit(1)
	}
}
