package notify

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
)

// DesktopNotifier shows OS notifications through the platform notification
// daemon.
type DesktopNotifier struct {
	icon       string
	permission atomic.Value // Permission
}

// NewDesktopNotifier returns a notifier that starts granted when enabled and
// denied otherwise.
func NewDesktopNotifier(enabled bool, icon string) *DesktopNotifier {
	n := &DesktopNotifier{icon: icon}
	p := PermissionDenied
	if enabled {
		p = PermissionGranted
	}
	n.permission.Store(p)
	return n
}

func (n *DesktopNotifier) Permission() Permission {
	return n.permission.Load().(Permission)
}

func (n *DesktopNotifier) SetPermission(p Permission) {
	n.permission.Store(p)
}

func (n *DesktopNotifier) Notify(rec Record) error {
	return beeep.Notify(rec.Title(), rec.Snippet, n.icon)
}
