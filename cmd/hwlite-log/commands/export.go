package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hwlite/hwlite-go/pkg/log"
)

// RunExport writes the selected events of path as jsonl or csv to output,
// or to stdout when output is empty.
func RunExport(path, format, output string, opts FilterOptions) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "jsonl" {
		return exportJSONL(path, opts, w)
	}
	return exportCSV(path, opts, w)
}

func exportJSONL(path string, opts FilterOptions, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(path, opts, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{
	"timestamp", "session_id", "token_id", "role", "direction", "layer", "category",
	"type", "ins", "sw", "secure", "duration_ns", "size", "data", "error",
}

func exportCSV(path string, opts FilterOptions, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := each(path, opts, func(event log.Event) error {
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

func csvRow(event log.Event) []string {
	var ins, sw, secure, duration, size, data, errMsg string
	eventType := "unknown"

	switch {
	case event.Frame != nil:
		eventType = "frame"
		size = strconv.Itoa(event.Frame.Size)
		data = hex.EncodeToString(event.Frame.Data)
	case event.Command != nil:
		eventType = event.Command.Name
		ins = fmt.Sprintf("%02X", event.Command.Ins)
		if event.Command.SW != nil {
			sw = fmt.Sprintf("%04X", *event.Command.SW)
		}
		secure = strconv.FormatBool(event.Command.Secure)
		if event.Command.Duration != nil {
			duration = strconv.FormatInt(event.Command.Duration.Nanoseconds(), 10)
		}
	case event.StateChange != nil:
		eventType = "state:" + event.StateChange.NewState
	case event.Error != nil:
		eventType = "error"
	}
	if event.Error != nil {
		errMsg = event.Error.Message
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.SessionID,
		event.TokenID,
		event.LocalRole.String(),
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		eventType,
		ins,
		sw,
		secure,
		duration,
		size,
		data,
		errMsg,
	}
}
