package notify

import (
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"go.uber.org/zap"
)

// Surface names.
const (
	SurfaceToast  = "toast"
	SurfaceNative = "native"
	SurfacePanel  = "panel"
)

// Surface is one place a notification can be shown.
type Surface interface {
	Name() string
	// Show displays rec and reports whether it did.
	Show(rec Record) bool
	// Clear removes every entry and returns how many were removed.
	Clear(reason string) int
}

// Toast is the in-app transient toast surface.
type Toast struct {
	shelf *shelf
}

func NewToast(ttl time.Duration, b *bus.Bus) *Toast {
	return &Toast{shelf: newShelf(SurfaceToast, ttl, 0, false, b)}
}

func (t *Toast) Name() string            { return SurfaceToast }
func (t *Toast) Show(rec Record) bool    { return t.shelf.add(rec) }
func (t *Toast) Clear(reason string) int { return t.shelf.clear(reason) }
func (t *Toast) Active() []Entry         { return t.shelf.entries(false) }

func (t *Toast) Dismiss(id string) bool {
	_, ok := t.shelf.remove(id, ReasonDismissed)
	return ok
}

// View removes the toast and returns its record so the caller can navigate
// to the conversation.
func (t *Toast) View(id string) (Record, bool) {
	return t.shelf.remove(id, ReasonViewed)
}

// Permission is the OS-level notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notifier delivers OS-level notifications.
type Notifier interface {
	Permission() Permission
	Notify(rec Record) error
}

// Native is the OS notification surface. Records are shown only while the
// notifier reports PermissionGranted.
type Native struct {
	shelf    *shelf
	notifier Notifier
	logger   *zap.Logger
}

func NewNative(ttl time.Duration, n Notifier, b *bus.Bus, logger *zap.Logger) *Native {
	return &Native{shelf: newShelf(SurfaceNative, ttl, 0, false, b), notifier: n, logger: logger}
}

func (n *Native) Name() string { return SurfaceNative }

func (n *Native) Show(rec Record) bool {
	if n.notifier == nil || n.notifier.Permission() != PermissionGranted {
		return false
	}
	if err := n.notifier.Notify(rec); err != nil {
		n.logger.Warn("native notification failed", zap.String("id", rec.ID), zap.Error(err))
		return false
	}
	return n.shelf.add(rec)
}

func (n *Native) Clear(reason string) int { return n.shelf.clear(reason) }
func (n *Native) Active() []Entry         { return n.shelf.entries(false) }

// Click handles activation of a native notification. The returned record
// names the conversation to focus.
func (n *Native) Click(id string) (Record, bool) {
	return n.shelf.remove(id, ReasonViewed)
}

// Panel is the header notification panel. It keeps the most recent entries;
// expired entries are hidden but stay listed until dismissed.
type Panel struct {
	shelf *shelf
}

func NewPanel(ttl time.Duration, limit int, b *bus.Bus) *Panel {
	return &Panel{shelf: newShelf(SurfacePanel, ttl, limit, true, b)}
}

func (p *Panel) Name() string            { return SurfacePanel }
func (p *Panel) Show(rec Record) bool    { return p.shelf.add(rec) }
func (p *Panel) Clear(reason string) int { return p.shelf.clear(reason) }

// Entries lists every held entry, hidden ones included, newest first.
func (p *Panel) Entries() []Entry { return p.shelf.entries(true) }

// Visible lists entries that have not auto-hidden yet.
func (p *Panel) Visible() []Entry { return p.shelf.entries(false) }

func (p *Panel) Dismiss(id string) bool {
	_, ok := p.shelf.remove(id, ReasonDismissed)
	return ok
}

func (p *Panel) DismissAll() int { return p.shelf.clear(ReasonDismissed) }
