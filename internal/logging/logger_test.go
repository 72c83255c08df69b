package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("hidden")
	Warn().Str("contest", "CQWW").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"contest":"CQWW"`) || !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %s", out)
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(DefaultConfig())

	NewSlogLogger("supervisor").With("service", "ingest").Warn("service restarted", "attempt", 3)

	out := buf.String()
	for _, want := range []string{`"component":"supervisor"`, `"service":"ingest"`, `"attempt":3`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
