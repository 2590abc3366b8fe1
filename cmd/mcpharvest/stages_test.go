package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/hazyhaar/mcpharvest/harvest"
)

func TestPrintReport(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printReport(&buf, &harvest.Report{
		Duration:   1500 * time.Millisecond,
		Discovery:  &harvest.DiscoverResult{Facet: harvest.Facet{Index: 3, Language: "go", License: "mit"}, Pages: 2, Found: 40, Queued: 7},
		Intake:     &harvest.IntakeResult{Batches: 1, Claimed: 7, Cataloged: 5, NoConfig: 2},
		Enrichment: &harvest.EnrichResult{Drained: 5, Enriched: 4, Forbidden: 1, Aborted: true},
	})
	out := buf.String()

	for _, want := range []string{
		"Pipeline run 1.5s",
		"facet 3 (go, mit)",
		"queued 7",
		"catalogued 5",
		"no config 2",
		"enriched 4",
		"forbidden 1",
		"aborted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "errors") {
		t.Errorf("zero error count should not be printed:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"other": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
