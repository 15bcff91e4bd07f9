package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
// The CLI uses these values as flag defaults.
type Config struct {
	// Input / output
	ReferenceDir string
	OutputDir    string
	RecordPrefix string
	LogFile      string

	// Audio device
	Device        string // speaker or null
	SampleRate    int
	BlockSize     int // frames per block, per channel
	DeviceQueue   int // blocks queued ahead of the device
	UnderrunLimit int // consecutive underruns tolerated before the device fails

	// Musical frame
	BPM  float64
	Key  string // global key, e.g. "A minor"
	Seed uint64 // 0 picks a time-based seed

	// Structure
	IntroBars      int
	SectionMinBars int
	SectionMaxBars int
	ChorusWithin   int // max bars between choruses
	BassHoldMin    int
	BassHoldMax    int
	HoldMin        int // other roles
	HoldMax        int
	RampBeats      float64 // gain glide after a section change

	// Mixing
	Ceiling    float64
	Knee       float64
	MasterGain float64

	// Surfaces
	Port     int    // 0 disables the network broadcast
	VizMode  string // full or reduced
	Headless bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		ReferenceDir: envStr("TECHNO_REFERENCE_DIR", "reference"),
		OutputDir:    envStr("TECHNO_OUTPUT_DIR", "."),
		RecordPrefix: envStr("TECHNO_RECORD_PREFIX", "sm_infinite"),
		LogFile:      envStr("TECHNO_LOG_FILE", "infinitechno.log"),

		Device:        envStr("TECHNO_DEVICE", "speaker"),
		SampleRate:    envInt("TECHNO_SAMPLE_RATE", audio.SampleRate),
		BlockSize:     envInt("TECHNO_BLOCK_SIZE", audio.FrameSize),
		DeviceQueue:   envInt("TECHNO_DEVICE_QUEUE", 4),
		UnderrunLimit: envInt("TECHNO_UNDERRUN_LIMIT", 8),

		BPM:  envFloat("TECHNO_BPM", 128),
		Key:  envStr("TECHNO_KEY", "A minor"),
		Seed: envUint("TECHNO_SEED", 0),

		IntroBars:      envInt("TECHNO_INTRO_BARS", 8),
		SectionMinBars: envInt("TECHNO_SECTION_MIN_BARS", 8),
		SectionMaxBars: envInt("TECHNO_SECTION_MAX_BARS", 16),
		ChorusWithin:   envInt("TECHNO_CHORUS_WITHIN", 32),
		BassHoldMin:    envInt("TECHNO_BASS_HOLD_MIN", 16),
		BassHoldMax:    envInt("TECHNO_BASS_HOLD_MAX", 32),
		HoldMin:        envInt("TECHNO_HOLD_MIN", 4),
		HoldMax:        envInt("TECHNO_HOLD_MAX", 12),
		RampBeats:      envFloat("TECHNO_RAMP_BEATS", 4),

		Ceiling:    envFloat("TECHNO_CEILING", 0.98),
		Knee:       envFloat("TECHNO_KNEE", 0.2),
		MasterGain: envFloat("TECHNO_MASTER_GAIN", 0.8),

		Port:     envInt("TECHNO_PORT", 0),
		VizMode:  envStr("TECHNO_VIZ_MODE", "full"),
		Headless: envBool("TECHNO_HEADLESS", false),
	}
}

// Validate checks ranges that the engine relies on.
func (c Config) Validate() error {
	switch {
	case c.SampleRate < 8000:
		return errors.Errorf("sample rate %d too low", c.SampleRate)
	case c.BlockSize <= 0:
		return errors.Errorf("block size must be positive, got %d", c.BlockSize)
	case c.BPM < 40 || c.BPM > 300:
		return errors.Errorf("bpm %.1f out of range 40-300", c.BPM)
	case float64(c.BlockSize) >= float64(c.SampleRate)*240/c.BPM:
		return errors.Errorf("block size %d is not shorter than one bar", c.BlockSize)
	case c.DeviceQueue < 1:
		return errors.Errorf("device queue must be at least 1, got %d", c.DeviceQueue)
	case c.IntroBars < 1:
		return errors.Errorf("intro bars must be at least 1, got %d", c.IntroBars)
	case c.SectionMinBars < 1 || c.SectionMaxBars < c.SectionMinBars:
		return errors.Errorf("invalid section length range %d-%d", c.SectionMinBars, c.SectionMaxBars)
	case c.ChorusWithin > 63:
		return errors.Errorf("chorus-within %d would allow a 64-bar window without a chorus", c.ChorusWithin)
	case c.ChorusWithin < c.IntroBars+c.SectionMinBars:
		return errors.Errorf("chorus-within %d shorter than intro plus one section", c.ChorusWithin)
	case c.BassHoldMin < 1 || c.BassHoldMax < c.BassHoldMin:
		return errors.Errorf("invalid bass hold range %d-%d", c.BassHoldMin, c.BassHoldMax)
	case c.HoldMin < 1 || c.HoldMax < c.HoldMin:
		return errors.Errorf("invalid hold range %d-%d", c.HoldMin, c.HoldMax)
	case c.Ceiling <= 0 || c.Ceiling > 1:
		return errors.Errorf("ceiling %.2f out of range (0, 1]", c.Ceiling)
	case c.Knee < 0 || c.Knee >= c.Ceiling:
		return errors.Errorf("knee %.2f must be below the ceiling", c.Knee)
	case c.Device != "speaker" && c.Device != "null":
		return errors.Errorf("unknown device %q", c.Device)
	case c.VizMode != "full" && c.VizMode != "reduced":
		return errors.Errorf("unknown viz mode %q", c.VizMode)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
