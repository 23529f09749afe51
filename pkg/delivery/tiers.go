package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/carenest/reminderd/pkg/audio"
	"github.com/carenest/reminderd/pkg/delivery/tts"
	"github.com/carenest/reminderd/pkg/retry"
)

const (
	tierRemoteSpeech = "remote_speech"
	tierLocalSpeech  = "local_speech"
	tierTone         = "tone"
	tierNotify       = "desktop_notify"
)

// RemoteSpeechTier synthesizes the voice script through the hosted
// speech service and loops the returned audio. A circuit breaker skips
// the network call entirely after repeated failures so fallback tiers
// take over without waiting out a timeout each time.
type RemoteSpeechTier struct {
	client  *tts.Client
	breaker *retry.CircuitBreaker
	pause   time.Duration
	logger  *slog.Logger
}

func NewRemoteSpeechTier(client *tts.Client, breaker *retry.CircuitBreaker, pause time.Duration, logger *slog.Logger) *RemoteSpeechTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSpeechTier{
		client:  client,
		breaker: breaker,
		pause:   pause,
		logger:  logger,
	}
}

func (t *RemoteSpeechTier) Name() string { return tierRemoteSpeech }

func (t *RemoteSpeechTier) Available() bool {
	return t.client.Configured() && audio.Available()
}

func (t *RemoteSpeechTier) Start(ctx context.Context, req Request) (Stopper, error) {
	var wav []byte

	synthesize := func() error {
		data, err := t.client.Synthesize(ctx, req.Script)
		if err != nil {
			return err
		}
		wav = data
		return nil
	}

	var err error
	if t.breaker != nil {
		err = t.breaker.Execute(synthesize)
	} else {
		err = synthesize()
	}
	if err != nil {
		return nil, err
	}

	player, err := audio.PlayWAV(wav, t.pause, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to play synthesized audio: %w", err)
	}
	return StopperFunc(player.Stop), nil
}

// LocalSpeechTier speaks the script through an on-device speech command
// (espeak, say, spd-say), repeating with a fixed pause until stopped.
type LocalSpeechTier struct {
	command string
	pause   time.Duration
	logger  *slog.Logger
}

// speechCommands are tried in order when no command is configured.
var speechCommands = []string{"espeak", "say", "spd-say"}

func NewLocalSpeechTier(command string, pause time.Duration, logger *slog.Logger) *LocalSpeechTier {
	if logger == nil {
		logger = slog.Default()
	}
	if command == "" {
		for _, candidate := range speechCommands {
			if _, err := exec.LookPath(candidate); err == nil {
				command = candidate
				break
			}
		}
	}
	return &LocalSpeechTier{
		command: command,
		pause:   pause,
		logger:  logger,
	}
}

func (t *LocalSpeechTier) Name() string { return tierLocalSpeech }

func (t *LocalSpeechTier) Available() bool {
	if t.command == "" {
		return false
	}
	_, err := exec.LookPath(t.command)
	return err == nil
}

func (t *LocalSpeechTier) Start(ctx context.Context, req Request) (Stopper, error) {
	if !t.Available() {
		return nil, fmt.Errorf("speech command %q not found", t.command)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			cmd := exec.CommandContext(loopCtx, t.command, req.Script)
			if err := cmd.Run(); err != nil {
				if loopCtx.Err() != nil {
					return
				}
				t.logger.Warn("Local speech command failed",
					"command", t.command,
					"error", err)
				return
			}

			select {
			case <-loopCtx.Done():
				return
			case <-time.After(t.pause):
			}
		}
	}()

	return StopperFunc(cancel), nil
}

// ToneTier plays the synthesized alarm buzz, repeating on a fixed
// interval until stopped. It needs no external service and acts as the
// audible tier of last resort.
type ToneTier struct {
	interval time.Duration
	logger   *slog.Logger
}

func NewToneTier(interval time.Duration, logger *slog.Logger) *ToneTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToneTier{
		interval: interval,
		logger:   logger,
	}
}

func (t *ToneTier) Name() string { return tierTone }

func (t *ToneTier) Available() bool {
	return audio.Available()
}

func (t *ToneTier) Start(ctx context.Context, req Request) (Stopper, error) {
	player, err := audio.PlayPCM(audio.AlarmTonePCM(), t.interval, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to play alarm tone: %w", err)
	}
	return StopperFunc(player.Stop), nil
}
