package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailsync/mailsync/pkg/engine"
)

func sampleDiff() *engine.DiffResult {
	current := engine.NewCurrentState()
	current.Endpoints["team"] = engine.CurrentEndpoint{ID: "ep_1", Config: engine.EmailGroup("a@example.com")}
	current.Endpoints["old"] = engine.CurrentEndpoint{ID: "ep_2", Config: engine.Webhook("https://old.example.com")}

	desired := engine.NewDesiredState()
	desired.Endpoints["team"] = engine.EmailGroup("a@example.com", "b@example.com")
	desired.Endpoints["ops"] = engine.Webhook("https://ops.example.com/hook")

	return engine.Diff(desired, current)
}

func sampleReport() *engine.ApplyReport {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.ApplyReport{
		RunID:       "run-1",
		Status:      engine.RunStatusPartial,
		StartedAt:   started,
		CompletedAt: started.Add(1500 * time.Millisecond),
		Results: []engine.ChangeResult{
			{
				Change:   engine.Change{Type: engine.ChangeCreate, Resource: engine.ResourceEndpoint, Key: "ops"},
				Outcome:  engine.OutcomeApplied,
				Attempts: 1,
				Duration: 12 * time.Millisecond,
			},
			{
				Change:   engine.Change{Type: engine.ChangeUpdate, Resource: engine.ResourceEndpoint, Key: "team"},
				Outcome:  engine.OutcomeFailed,
				Attempts: 3,
				Error:    engine.NewRemoteRejected("bad config", nil),
			},
			{
				Change:     engine.Change{Type: engine.ChangeDelete, Resource: engine.ResourceEndpoint, Key: "old"},
				Outcome:    engine.OutcomeSkipped,
				SkipReason: "cancelled",
			},
		},
		Summary: engine.ApplySummary{Applied: 1, Failed: 1, Skipped: 1},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReporter_DiffText(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{}).Diff(sampleDiff()); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Plan: 1 to create, 1 to update, 1 to delete.",
		"+ endpoint/ops",
		"webhook https://ops.example.com/hook",
		"~ endpoint/team",
		"[emails]",
		"- endpoint/old",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "before:") {
		t.Error("payloads rendered without verbose")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("color codes rendered without color")
	}
}

func TestReporter_DiffOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{}).Diff(sampleDiff()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	old := strings.Index(out, "endpoint/old")
	ops := strings.Index(out, "endpoint/ops")
	team := strings.Index(out, "endpoint/team")
	if !(old < ops && ops < team) {
		t.Errorf("changes not rendered in diff order:\n%s", out)
	}
}

func TestReporter_DiffVerbose(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{Verbose: true}).Diff(sampleDiff()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, "before:") || !strings.Contains(out, "after:") {
		t.Errorf("verbose output missing payloads:\n%s", out)
	}
	if !strings.Contains(out, `"b@example.com"`) {
		t.Errorf("verbose output missing desired emails:\n%s", out)
	}
}

func TestReporter_NoChanges(t *testing.T) {
	var buf bytes.Buffer
	diff := engine.Diff(engine.NewDesiredState(), engine.NewCurrentState())
	if err := New(&buf, Options{}).Diff(diff); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No changes") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReporter_DiffJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{Format: FormatJSON}).Diff(sampleDiff()); err != nil {
		t.Fatal(err)
	}

	var got engine.DiffResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got.Summary.Total() != 3 || !got.HasChanges {
		t.Errorf("summary = %+v", got.Summary)
	}
}

func TestReporter_DiffYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{Format: FormatYAML}).Diff(sampleDiff()); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if got["hasChanges"] != true {
		t.Errorf("hasChanges = %v, want json field names", got["hasChanges"])
	}
}

func TestReporter_ApplyText(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{}).Apply(sampleReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"ok    + endpoint/ops (1 attempt, 12ms)",
		"FAIL  ~ endpoint/team: [permanent] bad config",
		"(3 attempts)",
		"skip  - endpoint/old: cancelled",
		"Run run-1 partial: 1 applied, 1 failed, 1 skipped in 1.5s.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReporter_ApplyDryRun(t *testing.T) {
	report := &engine.ApplyReport{
		DryRun:  true,
		Status:  engine.RunStatusDryRun,
		Summary: engine.ApplySummary{Skipped: 4},
	}

	var buf bytes.Buffer
	if err := New(&buf, Options{}).Summary(report); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Dry run: 4 change(s) would be applied") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReporter_ProgressTextOnly(t *testing.T) {
	res := sampleReport().Results[0]

	var text bytes.Buffer
	New(&text, Options{}).Progress(res)
	if !strings.HasPrefix(text.String(), "ok") {
		t.Errorf("progress = %q", text.String())
	}

	var js bytes.Buffer
	New(&js, Options{Format: FormatJSON}).Progress(res)
	if js.Len() != 0 {
		t.Errorf("JSON reporter wrote progress: %q", js.String())
	}
}

func TestReporter_ApplyJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{Format: FormatJSON}).Summary(sampleReport()); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "partial" || got["runId"] != "run-1" {
		t.Errorf("report = %v", got)
	}
}

func TestReporter_Policy(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{}).Policy([]string{"many deletes"}, []string{"no catch-all removal"})
	out := buf.String()
	if !strings.Contains(out, "warning: many deletes") || !strings.Contains(out, "denied: no catch-all removal") {
		t.Errorf("output = %q", out)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestReporter_WriteError(t *testing.T) {
	if err := New(failingWriter{}, Options{}).Diff(sampleDiff()); err == nil {
		t.Error("expected write error")
	}
}
