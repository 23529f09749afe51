// Package delivery renders a reminder as sound, speech, and a desktop
// notification. Tiers are tried in order until one starts; the desktop
// notification fires alongside whichever tier wins.
package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carenest/reminderd/internal/models"
	"github.com/carenest/reminderd/pkg/metrics"
)

// Request carries what the delivery tiers need from an alarm.
type Request struct {
	ID         string
	Title      string
	Body       string
	Script     string
	SoundAlert bool
}

// RequestFor builds the delivery request for an alarm.
func RequestFor(a *models.ActiveAlarm) Request {
	return Request{
		ID:         a.ID,
		Title:      a.Title,
		Body:       a.Message,
		Script:     a.VoiceScript,
		SoundAlert: a.SoundAlert,
	}
}

// Stopper stops an in-progress tier delivery.
type Stopper interface {
	Stop()
}

// StopperFunc adapts a function to the Stopper interface.
type StopperFunc func()

func (f StopperFunc) Stop() { f() }

// Tier is one fallback level in the sound escalation chain. Start blocks
// until the tier has either begun delivering (returning a Stopper) or
// failed.
type Tier interface {
	Name() string
	Available() bool
	Start(ctx context.Context, req Request) (Stopper, error)
}

// DesktopNotifier posts and withdraws desktop notifications.
// Implemented by Notifier. May be nil when no notification service is
// reachable.
type DesktopNotifier interface {
	Notify(title, body string) (uint32, error)
	Dismiss(id uint32)
}

// Config holds delivery chain settings
type Config struct {
	MaxRing time.Duration // safety cap: delivery self-stops after this long
}

// Chain attempts delivery tiers in order with a uniform attempt/fail
// contract. At most one delivery is live at a time; starting a new one
// stops the previous.
type Chain struct {
	tiers    []Tier
	notifier DesktopNotifier
	config   *Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	current *attempt
	paused  *pausedDelivery
}

// pausedDelivery remembers a silenced delivery while the snooze menu is
// open. The notification survives the pause; only sound restarts.
type pausedDelivery struct {
	req      Request
	notifyID uint32
}

type attempt struct {
	token    string
	req      Request
	stopper  Stopper
	maxTimer *time.Timer
	notifyID uint32
}

// NewChain creates a delivery chain. The notifier may be nil when no
// desktop notification service is reachable.
func NewChain(tiers []Tier, notifier DesktopNotifier, config *Config, m *metrics.Metrics, logger *slog.Logger) *Chain {
	if config == nil {
		config = &Config{MaxRing: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Chain{
		tiers:    tiers,
		notifier: notifier,
		config:   config,
		metrics:  m,
		logger:   logger,
	}
}

// Start begins delivering the alarm without blocking the caller. Any
// previous delivery is stopped first.
func (c *Chain) Start(ctx context.Context, a *models.ActiveAlarm) {
	req := RequestFor(a)

	c.mu.Lock()
	prev := c.current
	pausedPrev := c.paused
	c.current = &attempt{token: uuid.NewString(), req: req}
	c.paused = nil
	token := c.current.token
	c.mu.Unlock()

	c.stopAttempt(prev)
	c.dropPaused(pausedPrev)

	// The remote tier awaits network I/O; run the whole escalation off
	// the caller's goroutine so timer dispatch is never blocked.
	go c.deliver(ctx, token, req, 0)
}

// deliver runs the notification and the tier escalation for the attempt
// identified by token. A non-zero notifyID means a notification from a
// paused delivery is still on screen and must not be re-posted.
func (c *Chain) deliver(ctx context.Context, token string, req Request, notifyID uint32) {
	// Desktop notification fires alongside the sound tiers regardless of
	// which one succeeds.
	if c.notifier != nil && notifyID == 0 {
		id, err := c.notifier.Notify(req.Title, req.Body)
		if err != nil {
			c.logger.Warn("Desktop notification failed", "error", err, "alarm_id", req.ID)
			c.metrics.ObserveDelivery(tierNotify, "error")
		} else {
			c.metrics.ObserveDelivery(tierNotify, "ok")
			if !c.attach(token, nil, id) {
				c.notifier.Dismiss(id)
				return
			}
		}
	}

	if !req.SoundAlert {
		c.logger.Debug("Sound alert disabled for alarm", "alarm_id", req.ID)
		return
	}

	for _, tier := range c.tiers {
		if !tier.Available() {
			c.logger.Debug("Delivery tier unavailable", "tier", tier.Name())
			c.metrics.ObserveDelivery(tier.Name(), "unavailable")
			continue
		}

		stopper, err := tier.Start(ctx, req)
		if err != nil {
			c.logger.Warn("Delivery tier failed, falling through",
				"tier", tier.Name(),
				"alarm_id", req.ID,
				"error", err)
			c.metrics.ObserveDelivery(tier.Name(), "error")
			continue
		}

		c.metrics.ObserveDelivery(tier.Name(), "ok")

		if !c.attach(token, stopper, 0) {
			// Superseded while the tier was starting; silence it
			stopper.Stop()
			return
		}

		c.logger.Info("Alarm delivery started", "tier", tier.Name(), "alarm_id", req.ID)
		return
	}

	// All tiers exhausted: the alarm stays visible, which is the
	// last-resort channel.
	c.logger.Warn("All sound delivery tiers failed", "alarm_id", req.ID)
}

// attach records the live stopper/notification on the attempt identified
// by token, arming the safety cap. Returns false if the attempt has been
// superseded or stopped.
func (c *Chain) attach(token string, stopper Stopper, notifyID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.token != token {
		return false
	}

	if notifyID != 0 {
		c.current.notifyID = notifyID
	}
	if stopper != nil {
		c.current.stopper = stopper
		if c.config.MaxRing > 0 {
			c.current.maxTimer = time.AfterFunc(c.config.MaxRing, func() {
				c.stopToken(token)
			})
		}
	}
	return true
}

// stopToken stops the current delivery only if it still belongs to token.
func (c *Chain) stopToken(token string) {
	c.mu.Lock()
	var a *attempt
	if c.current != nil && c.current.token == token {
		a = c.current
		c.current = nil
	}
	c.mu.Unlock()

	if a != nil {
		c.logger.Info("Alarm delivery reached ring cap, silencing", "alarm_id", a.req.ID)
	}
	c.stopAttempt(a)
}

// StopAll stops any live delivery: repeat timers, audio, speech, and the
// desktop notification. Safe to call when nothing is active.
func (c *Chain) StopAll() {
	c.mu.Lock()
	a := c.current
	p := c.paused
	c.current = nil
	c.paused = nil
	c.mu.Unlock()

	c.stopAttempt(a)
	c.dropPaused(p)
}

// Pause silences the sound of the current delivery but keeps its desktop
// notification on screen, remembering both so Resume can restart the
// sound (used while the snooze menu is open).
func (c *Chain) Pause() {
	c.mu.Lock()
	a := c.current
	c.current = nil
	if a != nil {
		c.paused = &pausedDelivery{req: a.req, notifyID: a.notifyID}
	}
	c.mu.Unlock()

	if a == nil {
		return
	}
	if a.maxTimer != nil {
		a.maxTimer.Stop()
	}
	if a.stopper != nil {
		a.stopper.Stop()
	}
}

// Resume restarts the sound of a paused delivery, reusing the
// notification that stayed up. No-op if nothing is paused.
func (c *Chain) Resume(ctx context.Context) {
	c.mu.Lock()
	p := c.paused
	c.paused = nil
	var token string
	if p != nil {
		c.current = &attempt{token: uuid.NewString(), req: p.req, notifyID: p.notifyID}
		token = c.current.token
	}
	c.mu.Unlock()

	if p != nil {
		go c.deliver(ctx, token, p.req, p.notifyID)
	}
}

// dropPaused withdraws the notification a paused delivery left behind.
func (c *Chain) dropPaused(p *pausedDelivery) {
	if p != nil && p.notifyID != 0 && c.notifier != nil {
		c.notifier.Dismiss(p.notifyID)
	}
}

func (c *Chain) stopAttempt(a *attempt) {
	if a == nil {
		return
	}
	if a.maxTimer != nil {
		a.maxTimer.Stop()
	}
	if a.stopper != nil {
		a.stopper.Stop()
	}
	if a.notifyID != 0 && c.notifier != nil {
		c.notifier.Dismiss(a.notifyID)
	}
}
