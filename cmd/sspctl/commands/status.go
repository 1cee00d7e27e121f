package commands

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// metricPrefix restricts status output to this process's own metrics,
// filtering out the Go runtime and process collectors promhttp registers
// alongside them.
const metricPrefix = "gossp_session_"

// httpTimeout bounds how long sspctl waits for the sspd metrics endpoint to
// respond before giving up.
const httpTimeout = 5 * time.Second

// sampleLine matches one Prometheus text-exposition-format sample: a
// metric name, an optional brace-delimited label set, and a float value.
// sspd's metrics endpoint is promhttp.HandlerFor with no custom encoding,
// so the standard text format is all sspctl ever needs to read.
var sampleLine = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:]*)(\{[^}]*\})?\s+(\S+)$`)

// labelPair matches one `name="value"` pair inside a sample's label set.
var labelPair = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)="((?:[^"\\]|\\.)*)"`)

// sample is one parsed Prometheus metric observation.
type sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Fetch and render sspd's Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			samples, err := fetchSamples(metricsAddr, metricsPath)
			if err != nil {
				return fmt.Errorf("fetch metrics: %w", err)
			}

			out, err := formatSamples(samples, outputFormat)
			if err != nil {
				return fmt.Errorf("format metrics: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// fetchSamples retrieves and parses every gossp_session_* sample exposed at
// http://addr/path, sorted by name then by label set for stable output.
func fetchSamples(addr, path string) ([]sample, error) {
	url := "http://" + addr + path

	client := &http.Client{Timeout: httpTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	samples, err := parseSamples(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return labelString(samples[i].Labels) < labelString(samples[j].Labels)
	})

	return samples, nil
}

// parseSamples reads Prometheus text-exposition format from r, keeping only
// samples whose metric name carries metricPrefix.
func parseSamples(r io.Reader) ([]sample, error) {
	var out []sample

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := sampleLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		name := m[1]
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}

		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}

		out = append(out, sample{
			Name:   name,
			Labels: parseLabels(m[2]),
			Value:  value,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan response body: %w", err)
	}

	return out, nil
}

// parseLabels parses a brace-delimited label set, e.g. `{role="client"}`.
// An empty or absent label set yields a nil map.
func parseLabels(raw string) map[string]string {
	if raw == "" {
		return nil
	}

	matches := labelPair.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	labels := make(map[string]string, len(matches))
	for _, m := range matches {
		labels[m[1]] = m[2]
	}

	return labels
}

// labelString renders a label map as a stable, comma-joined string for
// sorting and table display.
func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}

	return strings.Join(parts, ",")
}
