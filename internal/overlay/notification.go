// Package overlay implements the non-content layers composited onto the
// target framebuffer before it reaches the differential display: the
// notification bar (§4.12) and the local-echo prediction engine (§4.11).
// Both are grounded on
// original_source/src/frontend/terminaloverlay.{h,cc}'s
// NotificationEngine/PredictionEngine, the auxiliary structures named in
// §3.8 that the distillation dropped as CLI plumbing but whose data
// shapes belong in the core. Timestamps throughout are caller-supplied
// milliseconds, the same convention internal/transport uses, so the core
// stays deterministic and the daemon's goroutine supplies wall-clock time
// at the edge.
package overlay

import (
	"fmt"

	"github.com/chronostruct/gossp/internal/terminal"
)

// Notification is a single optional banner: a message, a permanence flag,
// and an expiration time. A permanent message (e.g. "Nothing to do!" on a
// dead session) persists until explicitly cleared; a transient one expires
// on its own.
type Notification struct {
	message   string
	permanent bool
	expiresAt int64
}

// Set installs a transient message that clears itself after durationMs
// (mirrors NotificationEngine::set_notification_string's fixed
// one-second expiration, generalized to a caller-supplied duration).
func (n *Notification) Set(message string, durationMs, now int64) {
	n.message = message
	n.permanent = false
	n.expiresAt = now + durationMs
}

// SetPermanent installs a message that Clear must be called to remove.
func (n *Notification) SetPermanent(message string) {
	n.message = message
	n.permanent = true
}

// Clear removes any active message.
func (n *Notification) Clear() {
	n.message = ""
	n.permanent = false
}

// adjust drops a transient message once it has expired (adjust_message).
func (n *Notification) adjust(now int64) {
	if !n.permanent && n.message != "" && now >= n.expiresAt {
		n.message = ""
	}
}

// Active reports whether a message is currently showing.
func (n *Notification) Active(now int64) bool {
	n.adjust(now)
	return n.message != ""
}

// notificationBarRenditions is the style NotificationEngine draws the bar
// in: white foreground on a blue background, without the inverse flag.
func notificationBarRenditions() terminal.Renditions {
	r := terminal.DefaultRenditions()
	r.Fg = terminal.Color(7)
	r.Bg = terminal.Color(4)
	return r
}

// Apply overwrites fb's top row with the notification bar when a message
// is active, matching NotificationEngine::apply's cursor-hiding and
// white-on-blue bar behavior.
func (n *Notification) Apply(fb *terminal.Framebuffer, now int64) {
	if !n.Active(now) {
		return
	}

	if fb.DS.CursorRow == 0 {
		fb.DS.CursorVisible = false
	}

	bar := terminal.BlankCell(notificationBarRenditions())
	for c := 0; c < fb.Width(); c++ {
		fb.SetCell(0, c, bar)
	}

	text := "mosh: " + n.message
	rend := notificationBarRenditions()
	rend.Bold = true
	col := 0
	for _, ch := range text {
		if col >= fb.Width() {
			break
		}
		cell := terminal.Cell{Renditions: rend}
		cell.SetContents(ch)
		fb.SetCell(0, col, cell)
		col++
	}
}

// ConnectionStatus tracks when a datagram was last successfully decrypted,
// and derives the "Last contact" banner text named in §5's
// cancellation/timeouts section (6500 ms of silence).
type ConnectionStatus struct {
	lastHeard int64
}

// NewConnectionStatus returns a status initialized as just having heard
// from the peer at now (mirrors NotificationEngine's constructor seeding
// last_word_from_server to the current time, so a freshly started session
// does not immediately show a stale banner).
func NewConnectionStatus(now int64) *ConnectionStatus {
	return &ConnectionStatus{lastHeard: now}
}

// Heard records that a datagram was just successfully decrypted.
func (c *ConnectionStatus) Heard(now int64) {
	c.lastHeard = now
}

// lastContactThresholdMs is the silence duration after which the "Last
// contact" banner appears (need_countup's hardcoded 6500 ms).
const lastContactThresholdMs = 6500

// Banner reports the "Last contact" text and whether it should be shown.
func (c *ConnectionStatus) Banner(now int64) (text string, show bool) {
	sinceMs := now - c.lastHeard
	if sinceMs <= lastContactThresholdMs {
		return "", false
	}
	return fmt.Sprintf("Last contact %ds ago.", sinceMs/1000), true
}
