package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/moldline-backend/internal/ingest"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(raw string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", raw)
	}
}

func renderReport(w io.Writer, format outputFormat, r ingest.RunReport) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		out, err := pterm.DefaultTable.WithHasHeader().WithData(reportRows(r)).Srender()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}
}

func reportRows(r ingest.RunReport) pterm.TableData {
	rows := pterm.TableData{
		{"Field", "Value"},
		{"status", string(r.Status)},
		{"source", r.SourceURI},
		{"digest", r.ContentDigest},
		{"size_bytes", strconv.FormatInt(r.SizeBytes, 10)},
		{"archive", r.ArchiveURI},
		{"products", strconv.FormatInt(r.ProductCount, 10)},
		{"machine_states", strconv.FormatInt(r.MachineStateCount, 10)},
		{"defects", strconv.FormatInt(r.DefectCount, 10)},
	}
	if r.Status == ingest.RunFailed {
		rows = append(rows,
			[]string{"failed_stage", string(r.FailedStage)},
			[]string{"error_kind", string(r.ErrorKind)},
			[]string{"error_message", r.ErrorMessage},
		)
	}
	rows = append(rows,
		[]string{"started_at", r.StartedAt.Format(time.RFC3339)},
		[]string{"duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()},
	)
	return rows
}
