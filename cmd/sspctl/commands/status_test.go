package commands

import (
	"strings"
	"testing"
)

func TestParseSamplesFiltersPrefix(t *testing.T) {
	body := strings.Join([]string{
		"# HELP go_goroutines Number of goroutines.",
		"# TYPE go_goroutines gauge",
		"go_goroutines 12",
		"# HELP gossp_session_datagrams_sent_total Total UDP datagrams transmitted.",
		"# TYPE gossp_session_datagrams_sent_total counter",
		`gossp_session_datagrams_sent_total{role="client"} 42`,
		`gossp_session_roam_events_total 3`,
	}, "\n")

	samples, err := parseSamples(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseSamples: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("expected 2 gossp_session_* samples, got %d: %+v", len(samples), samples)
	}

	if samples[0].Name != "gossp_session_datagrams_sent_total" {
		t.Errorf("unexpected first sample name %q", samples[0].Name)
	}
	if samples[0].Labels["role"] != "client" {
		t.Errorf("expected role=client label, got %+v", samples[0].Labels)
	}
	if samples[0].Value != 42 {
		t.Errorf("expected value 42, got %v", samples[0].Value)
	}

	if samples[1].Name != "gossp_session_roam_events_total" {
		t.Errorf("unexpected second sample name %q", samples[1].Name)
	}
	if samples[1].Labels != nil {
		t.Errorf("expected no labels for unlabeled sample, got %+v", samples[1].Labels)
	}
}

func TestLabelString(t *testing.T) {
	cases := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{"nil", nil, ""},
		{"empty", map[string]string{}, ""},
		{"single", map[string]string{"role": "server"}, "role=server"},
		{
			"sorted by key",
			map[string]string{"reason": "replay", "role": "server"},
			"reason=replay,role=server",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := labelString(tc.labels); got != tc.want {
				t.Errorf("labelString(%+v) = %q, want %q", tc.labels, got, tc.want)
			}
		})
	}
}

func TestFormatSamplesTable(t *testing.T) {
	samples := []sample{
		{Name: "gossp_session_roam_events_total", Value: 3},
		{Name: "gossp_session_datagrams_sent_total", Labels: map[string]string{"role": "client"}, Value: 42},
	}

	out, err := formatSamples(samples, formatTable)
	if err != nil {
		t.Fatalf("formatSamples: %v", err)
	}

	if !strings.Contains(out, "METRIC") || !strings.Contains(out, "role=client") {
		t.Errorf("table output missing expected content: %q", out)
	}
}

func TestFormatSamplesUnsupported(t *testing.T) {
	if _, err := formatSamples(nil, "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
