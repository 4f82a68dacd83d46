package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hwlite/hwlite-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hwlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func sw(v uint16) *uint16 { return &v }

func dur(d time.Duration) *time.Duration { return &d }

func sampleEvents() []log.Event {
	ts := time.Date(2026, 3, 4, 10, 15, 32, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts,
			SessionID: "presence-1",
			Layer:     log.LayerSession,
			Category:  log.CategoryPresence,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityPresence, NewState: "PRESENT", Reason: "CONNECTED",
			},
		},
		{
			Timestamp: ts.Add(time.Millisecond),
			SessionID: "aaaaaaaa-1111",
			Direction: log.DirectionOut,
			Layer:     log.LayerTransport,
			Category:  log.CategoryMessage,
			Frame:     &log.FrameEvent{Size: 4, Data: []byte{0x00, 0xA4, 0x04, 0x00}},
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond),
			SessionID: "aaaaaaaa-1111",
			TokenID:   "0102",
			Layer:     log.LayerCodec,
			Category:  log.CategoryMessage,
			Command:   &log.CommandEvent{Name: "SELECT", Ins: 0xA4, SW: sw(0x9000), Duration: dur(2 * time.Millisecond)},
		},
		{
			Timestamp: ts.Add(3 * time.Millisecond),
			SessionID: "aaaaaaaa-1111",
			TokenID:   "0102",
			Layer:     log.LayerCodec,
			Category:  log.CategoryMessage,
			Command:   &log.CommandEvent{Name: "VERIFY_PIN", Ins: 0x20, SW: sw(0x63C2), Secure: true, Duration: dur(4 * time.Millisecond)},
		},
		{
			Timestamp: ts.Add(4 * time.Millisecond),
			SessionID: "aaaaaaaa-1111",
			TokenID:   "0102",
			Layer:     log.LayerSession,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntitySession, OldState: "SECURE_CHANNEL_OPEN", NewState: "FAILED",
			},
		},
		{
			Timestamp: ts.Add(5 * time.Millisecond),
			SessionID: "bbbbbbbb-2222",
			Layer:     log.LayerCodec,
			Category:  log.CategoryMessage,
			Command:   &log.CommandEvent{Name: "SELECT", Ins: 0xA4, SW: sw(0x9000)},
		},
	}
}

func TestViewFormatsCommands(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"[aaaaaaaa]",
		"VERIFY_PIN",
		"SW: 63C2 WRONG_PIN(2 left)",
		"(secure channel)",
		"Data: 00a40400",
		"SECURE_CHANNEL_OPEN -> FAILED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view output missing %q", want)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"all", FilterOptions{}, 6},
		{"session prefix", FilterOptions{SessionID: "aaaa"}, 4},
		{"command", FilterOptions{Command: "select"}, 2},
		{"layer", FilterOptions{Layer: "transport"}, 1},
		{"category", FilterOptions{Category: "presence"}, 1},
		{"token", FilterOptions{TokenID: "0102"}, 3},
		{"time end", FilterOptions{TimeEnd: "2026-03-04T10:15:32Z"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.opts, &buf); err != nil {
				t.Fatalf("RunView failed: %v", err)
			}
			// Every event ends with a blank line.
			got := strings.Count(buf.String(), "\n\n")
			if got != tt.want {
				t.Errorf("events = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestViewRejectsBadFlags(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	bad := []FilterOptions{
		{Layer: "wire"},
		{Direction: "sideways"},
		{Category: "snapshot"},
		{TimeStart: "yesterday"},
	}
	for _, opts := range bad {
		if err := RunView(path, opts, &bytes.Buffer{}); err == nil {
			t.Errorf("RunView(%+v) error = nil, want error", opts)
		}
	}
}

func TestExportToJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", output, FilterOptions{Command: "VERIFY_PIN"}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var lines []log.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e log.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if lines[0].Command == nil || lines[0].Command.Name != "VERIFY_PIN" {
		t.Errorf("Command = %+v, want VERIFY_PIN", lines[0].Command)
	}
}

func TestExportToCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", output, FilterOptions{SessionID: "aaaaaaaa"}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want header + 4", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("header[0] = %q, want timestamp", rows[0][0])
	}
	pin := rows[3]
	if pin[7] != "VERIFY_PIN" || pin[8] != "20" || pin[9] != "63C2" || pin[10] != "true" {
		t.Errorf("VERIFY_PIN row = %v", pin)
	}
	if rows[1][13] != "00a40400" {
		t.Errorf("frame data = %q, want 00a40400", rows[1][13])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", "", FilterOptions{}); err == nil {
		t.Error("RunExport(xml) error = nil, want error")
	}
}

func TestFilterWritesCapture(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "filtered.hwlog")

	n, err := RunFilter(path, FilterOptions{Output: output, Layer: "codec"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 3 {
		t.Errorf("RunFilter() = %d, want 3", n)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()
	events, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("filtered events = %d, want 3", len(events))
	}
	for _, e := range events {
		if e.Layer != log.LayerCodec {
			t.Errorf("Layer = %v, want CODEC", e.Layer)
		}
	}
}

func TestFilterRequiresOutput(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if _, err := RunFilter(path, FilterOptions{}); err == nil {
		t.Error("RunFilter() error = nil, want error without output")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	stats, err := Collect(path)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if stats.TotalEvents != 6 {
		t.Errorf("TotalEvents = %d, want 6", stats.TotalEvents)
	}
	if stats.Presences != 1 {
		t.Errorf("Presences = %d, want 1", stats.Presences)
	}
	if len(stats.Sessions) != 2 {
		t.Errorf("Sessions = %d, want 2", len(stats.Sessions))
	}
	a := stats.Sessions["aaaaaaaa-1111"]
	if a == nil || a.Exchanges != 2 || a.FinalState != "FAILED" || a.TokenID != "0102" {
		t.Errorf("session a = %+v", a)
	}
	sel := stats.Commands["SELECT"]
	if sel == nil || sel.Count != 2 || sel.StatusWords[0x9000] != 2 {
		t.Errorf("SELECT stats = %+v", sel)
	}

	var buf bytes.Buffer
	printStats(&buf, stats)
	out := buf.String()
	for _, want := range []string{"CODEC:", "PRESENCE:", "VERIFY_PIN", "63C2", "Final state: FAILED", "Sessions: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q", want)
		}
	}
}

func TestStatsMissingFile(t *testing.T) {
	if err := RunStats(filepath.Join(t.TempDir(), "missing.hwlog"), &bytes.Buffer{}); err == nil {
		t.Error("RunStats() error = nil, want error")
	}
}
