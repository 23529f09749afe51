package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestAlarmTonePCM(t *testing.T) {
	pcm := AlarmTonePCM()

	// 100ms + 100ms + 200ms at 44100 Hz, 2 bytes per sample
	wantSamples := defaultSampleRate/10 + defaultSampleRate/10 + defaultSampleRate/5
	if len(pcm) != wantSamples*2 {
		t.Errorf("Expected %d bytes of PCM, got %d", wantSamples*2, len(pcm))
	}

	// Square wave must swing both positive and negative
	var sawPositive, sawNegative bool
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		if v > 0 {
			sawPositive = true
		}
		if v < 0 {
			sawNegative = true
		}
	}
	if !sawPositive || !sawNegative {
		t.Error("Expected square wave to contain both positive and negative samples")
	}
}

func TestSquareWavePeriod(t *testing.T) {
	// 441 Hz divides the sample rate evenly: period is exactly 100 samples
	pcm := squareWave(441, 0.5, 10*time.Millisecond)

	first := int16(binary.LittleEndian.Uint16(pcm))
	if first <= 0 {
		t.Fatalf("Expected first sample positive, got %d", first)
	}

	// Sample at half a period should be on the negative half
	half := int16(binary.LittleEndian.Uint16(pcm[50*2:]))
	if half >= 0 {
		t.Errorf("Expected sample at half period to be negative, got %d", half)
	}

	// One full period later the wave repeats
	next := int16(binary.LittleEndian.Uint16(pcm[100*2:]))
	if next != first {
		t.Errorf("Expected wave to repeat after one period: first=%d next=%d", first, next)
	}
}

func TestParseWAVMinimal(t *testing.T) {
	// Minimal valid WAV: 44-byte header + 4 bytes of data
	data := []byte{1, 2, 3, 4}
	wav := buildMinimalWAV(t, 22050, 1, 16, data)

	format, audio, err := parseWAV(wav)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if format.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", format.SampleRate)
	}
	if format.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", format.Channels)
	}
	if format.BitDepth != 16 {
		t.Errorf("Expected 16-bit depth, got %d", format.BitDepth)
	}
	if len(audio) != len(data) {
		t.Errorf("Expected %d data bytes, got %d", len(data), len(audio))
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("not audio at all"),
		[]byte("RIFF\x00\x00\x00\x00JUNK"),
	}

	for _, data := range cases {
		if _, _, err := parseWAV(data); err == nil {
			t.Errorf("Expected error for %d-byte input", len(data))
		}
	}
}

func buildMinimalWAV(t *testing.T, sampleRate, channels, bitDepth int, data []byte) []byte {
	t.Helper()

	var buf []byte
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(data)))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate*channels*bitDepth/8))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels*bitDepth/8))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitDepth))

	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)

	return buf
}
