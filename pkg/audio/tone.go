package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// AlarmTonePCM synthesizes the alarm buzz as signed 16-bit little-endian
// mono PCM: alternating square-wave pitches with a stepped volume
// envelope, matching the 200/150/200 Hz pattern of the application's
// alarm sound.
func AlarmTonePCM() []byte {
	segments := []struct {
		freq     float64
		gain     float64
		duration time.Duration
	}{
		{200, 0.4, 100 * time.Millisecond},
		{150, 0.1, 100 * time.Millisecond},
		{200, 0.4, 200 * time.Millisecond},
	}

	var pcm []byte
	for _, seg := range segments {
		pcm = append(pcm, squareWave(seg.freq, seg.gain, seg.duration)...)
	}
	return pcm
}

func squareWave(freq, gain float64, duration time.Duration) []byte {
	samples := int(float64(defaultSampleRate) * duration.Seconds())
	buf := make([]byte, samples*2)

	period := float64(defaultSampleRate) / freq
	amplitude := gain * math.MaxInt16

	for i := 0; i < samples; i++ {
		v := amplitude
		if math.Mod(float64(i), period) >= period/2 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}
