// Package audio plays alarm sounds through the system audio device.
// Playback loops with a fixed pause between repetitions until stopped.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Global audio context singleton. oto allows only one context per process.
// The context keeps whatever format it was first created with, so the
// initialized rate and channel count are recorded for later conversion.
var (
	globalCtx     *oto.Context
	globalCtxOnce sync.Once
	globalCtxErr  error
	ctxSampleRate int
	ctxChannels   int
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 1
)

func initContext(sampleRate, channels int) error {
	globalCtxOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			globalCtxErr = fmt.Errorf("failed to initialize audio context: %w", err)
			return
		}

		// Wait for the hardware audio devices to be ready
		<-readyChan
		globalCtx = ctx
		ctxSampleRate = sampleRate
		ctxChannels = channels
	})
	return globalCtxErr
}

// Available reports whether an audio context can be (or has been) created.
func Available() bool {
	return initContext(defaultSampleRate, defaultChannels) == nil
}

// Player manages looping alarm playback with cancellation support
type Player struct {
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
	logger   *slog.Logger
}

// PlayWAV plays the provided WAV audio data in a loop, pausing for the
// given duration between repetitions, and returns a Player for control.
func PlayWAV(wavData []byte, pause time.Duration, logger *slog.Logger) (*Player, error) {
	if logger == nil {
		logger = slog.Default()
	}

	format, audioData, err := parseWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WAV data: %w", err)
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported WAV bit depth %d", format.BitDepth)
	}

	if err := initContext(format.SampleRate, format.Channels); err != nil {
		return nil, err
	}

	// A context created earlier by another sound may use a different
	// format; convert so the audio plays at the right pitch and speed.
	if format.SampleRate != ctxSampleRate || format.Channels != ctxChannels {
		audioData = convertPCM(audioData, format.SampleRate, format.Channels,
			ctxSampleRate, ctxChannels)
	}

	return startLoop(audioData, pause, logger), nil
}

// PlayPCM plays raw signed 16-bit little-endian PCM in a loop with the
// given pause between repetitions.
func PlayPCM(pcm []byte, pause time.Duration, logger *slog.Logger) (*Player, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := initContext(defaultSampleRate, defaultChannels); err != nil {
		return nil, err
	}

	return startLoop(pcm, pause, logger), nil
}

func startLoop(audioData []byte, pause time.Duration, logger *slog.Logger) *Player {
	p := &Player{
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	// Play in a goroutine so the caller never blocks
	go p.playLoop(audioData, pause)

	return p
}

// playLoop owns the oto player handle exclusively; Stop only signals
// through stopChan, so the handle is never touched from two goroutines.
func (p *Player) playLoop(audioData []byte, pause time.Duration) {
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		player := globalCtx.NewPlayer(bytes.NewReader(audioData))
		player.Play()

		// Wait for the sound to finish playing or stop signal
		for player.IsPlaying() {
			select {
			case <-p.stopChan:
				player.Pause()
				player.Close()
				return
			case <-time.After(10 * time.Millisecond):
			}
		}

		if err := player.Close(); err != nil {
			p.logger.Warn("Failed to close audio player", "error", err)
		}

		// Pause between repetitions, watching for stop
		select {
		case <-p.stopChan:
			return
		case <-time.After(pause):
		}
	}
}

// Stop stops the audio playback. Safe to call multiple times and on nil.
func (p *Player) Stop() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stopped {
		p.stopped = true
		close(p.stopChan)
	}
}

// convertPCM rewrites signed 16-bit little-endian PCM from one sample
// rate and channel count to another. Rate conversion picks the nearest
// source frame; channel conversion averages down or duplicates up.
func convertPCM(data []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	if fromChannels <= 0 || toChannels <= 0 || fromRate <= 0 || toRate <= 0 {
		return nil
	}

	frameSize := 2 * fromChannels
	frames := len(data) / frameSize
	if frames == 0 {
		return nil
	}

	outFrames := frames
	if fromRate != toRate {
		outFrames = int(int64(frames) * int64(toRate) / int64(fromRate))
	}

	out := make([]byte, 0, outFrames*2*toChannels)
	for i := 0; i < outFrames; i++ {
		src := i
		if fromRate != toRate {
			src = int(int64(i) * int64(fromRate) / int64(toRate))
			if src >= frames {
				src = frames - 1
			}
		}
		base := src * frameSize

		if fromChannels == toChannels {
			out = append(out, data[base:base+frameSize]...)
			continue
		}

		var sum int
		for ch := 0; ch < fromChannels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(data[base+2*ch:])))
		}
		sample := uint16(int16(sum / fromChannels))
		for ch := 0; ch < toChannels; ch++ {
			out = binary.LittleEndian.AppendUint16(out, sample)
		}
	}
	return out
}

// wavFormat holds WAV file format information
type wavFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// parseWAV parses a WAV file and returns the format and audio data
func parseWAV(data []byte) (*wavFormat, []byte, error) {
	reader := bytes.NewReader(data)

	riff := make([]byte, 4)
	if _, err := io.ReadFull(reader, riff); err != nil {
		return nil, nil, err
	}
	if string(riff) != "RIFF" {
		return nil, nil, fmt.Errorf("not a RIFF file")
	}

	// Skip file size
	if _, err := reader.Seek(4, io.SeekCurrent); err != nil {
		return nil, nil, err
	}

	wave := make([]byte, 4)
	if _, err := io.ReadFull(reader, wave); err != nil {
		return nil, nil, err
	}
	if string(wave) != "WAVE" {
		return nil, nil, fmt.Errorf("not a WAVE file")
	}

	format := &wavFormat{}
	var audioData []byte

	for {
		chunkID := make([]byte, 4)
		if _, err := io.ReadFull(reader, chunkID); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, nil, err
		}

		var chunkSize uint32
		if err := binary.Read(reader, binary.LittleEndian, &chunkSize); err != nil {
			return nil, nil, err
		}

		switch string(chunkID) {
		case "fmt ":
			var audioFormat, numChannels uint16
			var sampleRate, byteRate uint32
			var blockAlign, bitDepth uint16

			binary.Read(reader, binary.LittleEndian, &audioFormat)
			binary.Read(reader, binary.LittleEndian, &numChannels)
			binary.Read(reader, binary.LittleEndian, &sampleRate)
			binary.Read(reader, binary.LittleEndian, &byteRate)
			binary.Read(reader, binary.LittleEndian, &blockAlign)
			binary.Read(reader, binary.LittleEndian, &bitDepth)

			format.Channels = int(numChannels)
			format.SampleRate = int(sampleRate)
			format.BitDepth = int(bitDepth)

			// Skip any extension bytes
			if chunkSize > 16 {
				if _, err := reader.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return nil, nil, err
				}
			}

		case "data":
			audioData = make([]byte, chunkSize)
			if _, err := io.ReadFull(reader, audioData); err != nil {
				return nil, nil, err
			}

		default:
			if _, err := reader.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, nil, err
			}
		}
	}

	if format.SampleRate == 0 || format.Channels == 0 {
		return nil, nil, fmt.Errorf("missing fmt chunk")
	}
	if len(audioData) == 0 {
		return nil, nil, fmt.Errorf("missing data chunk")
	}

	return format, audioData, nil
}
