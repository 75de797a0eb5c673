package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	crdb "github.com/cockroachdb/errors"
	"gorm.io/datatypes"

	"github.com/yungbote/moldline-backend/internal/domain/quality"
)

type rawRecord struct {
	Version         json.RawMessage            `json:"version"`
	Timestamp       json.RawMessage            `json:"timestamp"`
	MachineID       json.RawMessage            `json:"molding_machine_id"`
	ObjectDetection map[string]json.RawMessage `json:"object_detection"`
	MachineState    json.RawMessage            `json:"molding-machine-state"`
}

type rawDetection struct {
	Reject        *bool `json:"reject"`
	PixelSeverity *struct {
		Value     *float64 `json:"value"`
		Reject    *bool    `json:"reject"`
		Threshold *float64 `json:"threshold"`
		MinValue  *float64 `json:"min_value"`
		MaxValue  *float64 `json:"max_value"`
	} `json:"pixel_severity"`
}

// recordRows is one record translated into rows. IDs are assigned by the
// store at flush time.
type recordRows struct {
	product *quality.Product
	state   *quality.MachineState
	defects []*quality.Defect
}

// translateRecord maps one dataset element to its rows. Errors mention the
// record index and field name but never the field values.
func translateRecord(idx int, rec rawRecord) (*recordRows, error) {
	version, err := scalarString(rec.Version)
	if err != nil || version == "" {
		return nil, crdb.Newf("record %d: missing or invalid version", crdb.Safe(idx))
	}
	machineID, err := scalarString(rec.MachineID)
	if err != nil || machineID == "" {
		return nil, crdb.Newf("record %d: missing or invalid molding_machine_id", crdb.Safe(idx))
	}
	capturedAt, err := unixTime(rec.Timestamp)
	if err != nil {
		return nil, crdb.Wrapf(err, "record %d: timestamp", crdb.Safe(idx))
	}

	product := &quality.Product{
		SchemaVersion: version,
		CapturedAt:    capturedAt,
		MachineID:     machineID,
	}
	rows := &recordRows{product: product}

	if raw, ok := rec.ObjectDetection["reject"]; ok {
		var reject bool
		if err := json.Unmarshal(raw, &reject); err == nil {
			product.OverallReject = reject
		} else if !isNull(raw) {
			return nil, crdb.Newf("record %d: object_detection.reject is not a boolean", crdb.Safe(idx))
		}
	}

	var severityTotal float64
	for _, defectType := range quality.DefectTypes {
		raw, ok := rec.ObjectDetection[defectType]
		if !ok || isNull(raw) {
			continue
		}
		var det rawDetection
		if err := json.Unmarshal(raw, &det); err != nil {
			return nil, crdb.Newf("record %d: object_detection.%s is malformed", crdb.Safe(idx), crdb.Safe(defectType))
		}
		if det.Reject == nil || !*det.Reject {
			continue
		}
		d := &quality.Defect{DefectType: defectType, Rejected: true}
		if ps := det.PixelSeverity; ps != nil {
			d.SeverityValue = ps.Value
			d.SeverityReject = ps.Reject
			d.SeverityThreshold = ps.Threshold
			d.SeverityMin = ps.MinValue
			d.SeverityMax = ps.MaxValue
			if ps.Value != nil {
				severityTotal += *ps.Value
			}
		}
		rows.defects = append(rows.defects, d)
	}
	product.DefectCount = len(rows.defects)
	if len(rows.defects) > 0 {
		total := severityTotal
		product.TotalSeverityScore = &total
	}

	if len(rec.MachineState) > 0 && !isNull(rec.MachineState) {
		state, err := translateMachineState(rec.MachineState)
		if err != nil {
			return nil, crdb.Wrapf(err, "record %d: molding-machine-state", crdb.Safe(idx))
		}
		rows.state = state
	}
	return rows, nil
}

func translateMachineState(raw json.RawMessage) (*quality.MachineState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, crdb.New("not an object")
	}
	ms := &quality.MachineState{}
	extra := map[string]json.RawMessage{}
	for k, v := range fields {
		if !setMachineField(ms, k, v) {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		b, err := json.Marshal(extra)
		if err != nil {
			return nil, crdb.Wrap(err, "encode extra telemetry")
		}
		ms.Extra = datatypes.JSON(b)
	}
	return ms, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// scalarString accepts a JSON string or number.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// unixTime parses Unix seconds, fractional seconds allowed, into UTC.
func unixTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || isNull(raw) {
		return time.Time{}, crdb.New("missing")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, crdb.New("not a number")
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, crdb.New("not a finite number")
	}
	sec := math.Floor(f)
	nsec := math.Round((f - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC(), nil
}
