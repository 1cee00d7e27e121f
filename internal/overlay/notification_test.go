package overlay

import (
	"testing"

	"github.com/chronostruct/gossp/internal/terminal"
)

func TestNotificationSetAndExpire(t *testing.T) {
	var n Notification
	n.Set("hello", 1000, 0)

	if !n.Active(500) {
		t.Fatal("expected notification active before expiration")
	}
	if n.Active(1500) {
		t.Fatal("expected notification expired after duration elapsed")
	}
}

func TestNotificationPermanentNeverExpires(t *testing.T) {
	var n Notification
	n.SetPermanent("stuck")

	if !n.Active(1_000_000) {
		t.Fatal("expected permanent notification to remain active")
	}
	n.Clear()
	if n.Active(0) {
		t.Fatal("expected cleared notification inactive")
	}
}

func TestNotificationApplyDrawsBarOnTopRow(t *testing.T) {
	var n Notification
	n.SetPermanent("test")

	fb := terminal.New(10, 3)
	n.Apply(fb, 0)

	if fb.Cell(0, 0).Renditions.Bg != terminal.Color(4) {
		t.Fatal("expected row 0 painted with the notification background")
	}
	if fb.Cell(1, 0).Renditions.Bg == terminal.Color(4) {
		t.Fatal("expected row 1 untouched")
	}
}

func TestConnectionStatusBanner(t *testing.T) {
	cs := NewConnectionStatus(0)

	if _, show := cs.Banner(1000); show {
		t.Fatal("expected no banner shortly after contact")
	}

	if text, show := cs.Banner(10000); !show || text == "" {
		t.Fatalf("expected a banner after silence, got %q, show=%v", text, show)
	}

	cs.Heard(10000)
	if _, show := cs.Banner(10500); show {
		t.Fatal("expected banner to clear after renewed contact")
	}
}
