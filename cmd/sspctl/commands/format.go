package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSamples renders a slice of metric samples in the requested format.
func formatSamples(samples []sample, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatSamplesJSON(samples)
	case formatTable:
		return formatSamplesTable(samples), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSamplesTable(samples []sample) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tLABELS\tVALUE")

	for _, s := range samples {
		labels := labelString(s.Labels)
		if labels == "" {
			labels = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%g\n", s.Name, labels, s.Value)
	}

	w.Flush()

	return buf.String()
}

func formatSamplesJSON(samples []sample) (string, error) {
	b, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal samples: %w", err)
	}
	return string(b) + "\n", nil
}
