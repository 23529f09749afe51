package audio

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
)

func buildWAV(sampleRate, channels, bitDepth int, audioData []byte) []byte {
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(audioData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(audioData)))
	buf.Write(audioData)

	return buf.Bytes()
}

func pcmSamples(samples ...int16) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func TestParseWAV(t *testing.T) {
	data := pcmSamples(100, -100, 200, -200)
	wav := buildWAV(22050, 2, 16, data)

	format, audio, err := parseWAV(wav)
	if err != nil {
		t.Fatalf("Failed to parse WAV: %v", err)
	}
	if format.SampleRate != 22050 || format.Channels != 2 || format.BitDepth != 16 {
		t.Errorf("Unexpected format: %+v", format)
	}
	if !bytes.Equal(audio, data) {
		t.Error("Audio data does not round-trip")
	}
}

func TestPlayWAVRejectsUnsupportedBitDepth(t *testing.T) {
	wav := buildWAV(44100, 1, 8, []byte{0x80, 0x7f, 0x80, 0x7f})

	if _, err := PlayWAV(wav, 0, nil); err == nil {
		t.Error("Expected 8-bit WAV to be rejected")
	}
}

func TestConvertPCMRate(t *testing.T) {
	// Doubling the rate doubles the frame count
	in := pcmSamples(10, 20, 30, 40)
	out := convertPCM(in, 22050, 1, 44100, 1)
	if len(out) != 2*len(in) {
		t.Fatalf("Expected %d bytes after upsampling, got %d", 2*len(in), len(out))
	}

	// Nearest-frame upsample repeats each source sample
	first := int16(binary.LittleEndian.Uint16(out[0:]))
	second := int16(binary.LittleEndian.Uint16(out[2:]))
	if first != 10 || second != 10 {
		t.Errorf("Expected first two samples to be 10, got %d and %d", first, second)
	}

	// Halving the rate halves the frame count
	out = convertPCM(in, 44100, 1, 22050, 1)
	if len(out) != len(in)/2 {
		t.Errorf("Expected %d bytes after downsampling, got %d", len(in)/2, len(out))
	}
}

func TestConvertPCMChannels(t *testing.T) {
	// Stereo frames average down to mono
	in := pcmSamples(100, 300, -100, -300)
	out := convertPCM(in, 44100, 2, 44100, 1)
	if len(out) != 4 {
		t.Fatalf("Expected 4 bytes of mono output, got %d", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 200 {
		t.Errorf("Expected averaged sample 200, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -200 {
		t.Errorf("Expected averaged sample -200, got %d", got)
	}

	// Mono duplicates up to stereo
	out = convertPCM(pcmSamples(42), 44100, 1, 44100, 2)
	if len(out) != 4 {
		t.Fatalf("Expected 4 bytes of stereo output, got %d", len(out))
	}
	left := int16(binary.LittleEndian.Uint16(out[0:]))
	right := int16(binary.LittleEndian.Uint16(out[2:]))
	if left != 42 || right != 42 {
		t.Errorf("Expected both channels to carry 42, got %d and %d", left, right)
	}
}

func TestConvertPCMIdentity(t *testing.T) {
	in := pcmSamples(1, 2, 3, 4)
	out := convertPCM(in, 44100, 2, 44100, 2)
	if !bytes.Equal(in, out) {
		t.Error("Expected matching formats to pass audio through unchanged")
	}
}

func TestPlayerStopConcurrent(t *testing.T) {
	p := &Player{stopChan: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()

	select {
	case <-p.stopChan:
	default:
		t.Error("Expected stop channel to be closed")
	}

	p.Stop() // still safe after everything settled
	var nilPlayer *Player
	nilPlayer.Stop()
}
