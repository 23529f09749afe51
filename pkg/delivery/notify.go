package delivery

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	notifyObj    = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"
	closeMethod  = "org.freedesktop.Notifications.CloseNotification"

	appName = "reminderd"

	urgencyCritical = byte(2)
)

// Notifier posts desktop notifications over the session bus. It is the
// non-auditory delivery channel and fires alongside the sound tiers.
type Notifier struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewNotifier connects to the session bus. Returns an error when no
// notification service is reachable; callers treat that as the channel
// being unavailable, never as fatal.
func NewNotifier(logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	return &Notifier{
		conn:   conn,
		logger: logger,
	}, nil
}

// Notify posts a critical-urgency notification and returns its server id
// for later dismissal.
func (n *Notifier) Notify(title, body string) (uint32, error) {
	obj := n.conn.Object(notifyObj, notifyPath)

	call := obj.Call(
		notifyMethod,
		0,
		appName,
		uint32(0),
		"",
		title,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(urgencyCritical),
		},
		int32(0), // never expire on its own
	)
	if call.Err != nil {
		return 0, fmt.Errorf("failed to post notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("failed to read notification id: %w", err)
	}
	return id, nil
}

// Dismiss closes a previously posted notification. Errors are logged,
// not returned: a notification the user already closed is not a failure.
func (n *Notifier) Dismiss(id uint32) {
	obj := n.conn.Object(notifyObj, notifyPath)
	if call := obj.Call(closeMethod, 0, id); call.Err != nil {
		n.logger.Debug("Failed to close notification", "id", id, "error", call.Err)
	}
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
