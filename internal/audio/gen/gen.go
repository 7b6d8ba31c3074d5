package gen

import (
	"encoding/binary"
	"math"

	"github.com/waveout/waveout/internal/audio"
	"github.com/waveout/waveout/internal/audio/sink"
)

// amplitude keeps generated tones well below full scale.
const amplitude = 0.25

// Sine returns a render callback producing a continuous sine tone at the
// given frequency. The callback carries its phase across invocations so
// buffer boundaries stay glitch-free.
func Sine(format sink.Format, freq float64) audio.RenderFunc {
	phase := 0.0
	step := 2 * math.Pi * freq / float64(format.SampleRate)
	return func(buf []byte) {
		phase = fill(buf, format, phase, step, math.Sin)
	}
}

// Square returns a render callback producing a square wave at the given
// frequency.
func Square(format sink.Format, freq float64) audio.RenderFunc {
	phase := 0.0
	step := 2 * math.Pi * freq / float64(format.SampleRate)
	return func(buf []byte) {
		phase = fill(buf, format, phase, step, func(p float64) float64 {
			if math.Sin(p) >= 0 {
				return 1
			}
			return -1
		})
	}
}

// Silence returns a render callback that zeroes the buffer.
func Silence() audio.RenderFunc {
	return func(buf []byte) {
		for i := range buf {
			buf[i] = 0
		}
	}
}

// fill writes one waveform cycle segment into buf as interleaved PCM.
// 8-bit output is unsigned with a 128 midpoint, 16-bit is signed
// little-endian.
func fill(buf []byte, format sink.Format, phase, step float64, wave func(float64) float64) float64 {
	frame := format.BlockAlign()
	switch format.BitDepth {
	case 8:
		for i := 0; i+frame <= len(buf); i += frame {
			s := byte(128 + wave(phase)*amplitude*127)
			for c := 0; c < format.Channels; c++ {
				buf[i+c] = s
			}
			phase += step
		}
	case 16:
		for i := 0; i+frame <= len(buf); i += frame {
			s := int16(wave(phase) * amplitude * 32767)
			for c := 0; c < format.Channels; c++ {
				binary.LittleEndian.PutUint16(buf[i+2*c:], uint16(s))
			}
			phase += step
		}
	}
	return phase
}
