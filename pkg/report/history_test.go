package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mailsync/mailsync/pkg/engine"
	"github.com/mailsync/mailsync/pkg/stores"
)

func sampleRun() stores.Run {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return stores.Run{
		ID:          "run-42",
		Document:    "mail.yaml",
		Target:      "api.example.com",
		Status:      engine.RunStatusPartial,
		Applied:     2,
		Failed:      1,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
	}
}

func TestReporter_Runs(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{}).Runs([]stores.Run{sampleRun()}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"RUN", "STATUS", "run-42", "partial", "mail.yaml", "2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReporter_RunsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{}).Runs(nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No runs recorded.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReporter_RunsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, Options{Format: FormatJSON}).Runs([]stores.Run{sampleRun()}); err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["id"] != "run-42" {
		t.Errorf("runs = %v", got)
	}
}

func TestReporter_RunDetail(t *testing.T) {
	run := sampleRun()
	run.Results = []stores.ChangeRecord{
		{Resource: engine.ResourceEndpoint, Key: "ops", ChangeType: engine.ChangeCreate, Outcome: engine.OutcomeApplied, Attempts: 1},
		{Resource: engine.ResourceEmailAddress, Key: "a@example.com", ChangeType: engine.ChangeUpdate, Outcome: engine.OutcomeFailed, Attempts: 4, Error: "[permanent] rejected"},
	}

	var buf bytes.Buffer
	if err := New(&buf, Options{}).Run(&run); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Run run-42",
		"target:    api.example.com",
		"2 applied, 1 failed, 0 skipped",
		"+ endpoint/ops",
		"~ " + string(engine.ResourceEmailAddress) + "/a@example.com: [permanent] rejected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
