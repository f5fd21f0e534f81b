package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/plugin"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReadStream(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 4",
		"event: threads.filtered",
		`data: {"operator_id":1}`,
		"",
		"id: 5",
		"event: thread.routed",
		`data: {"thread_id":9}`,
		"",
		"id: 6",
		"event: partial",
	}, "\n")

	var got []events.Record
	last := readStream(strings.NewReader(stream), 3, func(r events.Record) { got = append(got, r) })

	if last != 5 {
		t.Fatalf("last = %d, want 5", last)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Type != events.ThreadsFiltered || string(got[0].Data) != `{"operator_id":1}` {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
}

func TestModelAppliesRecords(t *testing.T) {
	m := New("http://localhost:8080/", "tok")
	if m.apiURL != "http://localhost:8080" {
		t.Fatalf("apiURL = %q", m.apiURL)
	}

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)

	recs := []events.Record{
		{Seq: 1, Type: events.ThreadRouted, At: time.Now(), Data: mustJSON(t, notify.ThreadRoutedV1{ThreadID: 7, OperatorID: 2, OperatorCode: "TWO"})},
		{Seq: 2, Type: events.ThreadsFiltered, At: time.Now(), Data: mustJSON(t, plugin.FilterReport{OperatorID: 1, Before: 3, After: 2, Hidden: []int64{7}})},
		{Seq: 3, Type: events.ThreadsFiltered, At: time.Now(), Data: mustJSON(t, plugin.FilterReport{OperatorID: 5, Exempt: true, Before: 3, After: 3})},
		{Seq: 4, Type: "unknown", At: time.Now(), Data: json.RawMessage(`{}`)},
	}
	for _, r := range recs {
		updated, _ = m.Update(recordMsg(r))
		m = updated.(Model)
	}

	want := Stats{Runs: 2, Exempt: 1, Hidden: 1, Routed: 1}
	if m.stats != want {
		t.Fatalf("stats = %+v, want %+v", m.stats, want)
	}
	if len(m.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(m.rows))
	}
	if m.rows[0][0] != "3" || !strings.Contains(m.rows[0][4], "exempt") {
		t.Fatalf("newest row = %v", m.rows[0])
	}
	if !strings.Contains(m.rows[1][4], "hidden [7]") {
		t.Fatalf("filter row = %v", m.rows[1])
	}
	if !m.connected {
		t.Fatal("model should be connected after a record")
	}

	view := m.View()
	for _, want := range []string{"threadgate watch", "filter runs 2", "hidden 1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelDisconnect(t *testing.T) {
	m := New("http://x", "tok")
	updated, cmd := m.Update(disconnectedMsg{lastSeq: 9})
	m = updated.(Model)
	if m.connected || m.lastError == "" || cmd == nil {
		t.Fatalf("unexpected state after disconnect: connected=%v err=%q", m.connected, m.lastError)
	}
}
