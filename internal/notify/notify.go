// Package notify fans device events out to users over push channels and
// live websocket feeds.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gmsas95/pillpal/internal/metrics"
)

// Event kinds
const (
	KindDeviceMessage = "device_message"
	KindDeviceOffline = "device_offline"
	KindMedlog        = "medlog"
)

// Event is something a user should hear about.
type Event struct {
	Kind     string    `json:"kind"`
	UserID   string    `json:"user_id"`
	DeviceID string    `json:"device_id,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
	// Owner names the user in chat channels. Filled in by Route.
	Owner string `json:"owner,omitempty"`
}

// Text renders the event for chat-style channels.
func (e Event) Text() string {
	var text string
	switch e.Kind {
	case KindDeviceOffline:
		text = "⚠️ Dispenser offline\n" + e.Message
	case KindMedlog:
		text = "💊 Dose update\n" + e.Message
	default:
		text = "🔔 " + e.Message
	}
	if e.Owner != "" {
		text += "\n👤 " + e.Owner
	}
	return text
}

// Recipient is a user as chat channels see it.
type Recipient struct {
	Name             string
	Email            string
	TelegramChatID   int64
	DiscordChannelID string
}

// Label is how the user is named in a shared chat.
func (r Recipient) Label() string {
	switch {
	case r.Name != "" && r.Email != "":
		return r.Name + " <" + r.Email + ">"
	case r.Name != "":
		return r.Name
	default:
		return r.Email
	}
}

// Directory resolves the user an event belongs to. A nil Recipient with
// a nil error means the user no longer exists.
type Directory interface {
	Recipient(ctx context.Context, userID string) (*Recipient, error)
}

// Route picks the destination a chat channel should deliver ev to. The
// user's own destination wins. Users without one go to fallback, the
// operator's admin chat, when it is set. ok is false when the event has
// nowhere to go. The returned event carries the owner's label.
func Route[D comparable](ctx context.Context, dir Directory, ev Event, own func(*Recipient) D, fallback D) (dest D, out Event, ok bool, err error) {
	var zero D
	if dir == nil || ev.UserID == "" {
		return fallback, ev, fallback != zero, nil
	}

	rec, err := dir.Recipient(ctx, ev.UserID)
	if err != nil {
		return zero, ev, false, err
	}
	if rec == nil {
		return zero, ev, false, nil
	}
	ev.Owner = rec.Label()

	if d := own(rec); d != zero {
		return d, ev, true, nil
	}
	return fallback, ev, fallback != zero, nil
}

// Notifier delivers an event over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher delivers each event to every registered notifier concurrently.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
}

func NewDispatcher(logger *zap.Logger, m *metrics.Metrics, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		metrics:   m,
		timeout:   10 * time.Second,
	}
}

// Add registers another notifier.
func (d *Dispatcher) Add(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
}

// Names lists registered channels.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Dispatch is best effort: one failing channel does not stop the others.
// The returned error joins every channel failure.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	d.mu.RLock()
	notifiers := append([]Notifier(nil), d.notifiers...)
	d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	errs := make([]error, len(notifiers))
	var g errgroup.Group
	for i, n := range notifiers {
		g.Go(func() error {
			err := n.Notify(ctx, ev)
			d.metrics.RecordNotification(n.Name(), err)
			if err != nil {
				d.logger.Warn("Notification delivery failed",
					zap.String("channel", n.Name()),
					zap.String("kind", ev.Kind),
					zap.String("user_id", ev.UserID),
					zap.Error(err),
				)
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}
