package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"unicode"

	"github.com/yungbote/moldline-backend/internal/domain/quality"
)

type machineField struct {
	index int
	kind  reflect.Kind
}

// machineFields maps a normalized telemetry key (lowercase, alphanumerics
// only) to the MachineState column it populates, so "CycleTime" and
// "cycle_time" both land in cycle_time.
var machineFields = buildMachineFieldIndex()

func buildMachineFieldIndex() map[string]machineField {
	out := map[string]machineField{}
	t := reflect.TypeOf(quality.MachineState{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() != reflect.Pointer {
			continue
		}
		col := gormColumn(f.Tag.Get("gorm"))
		if col == "" {
			continue
		}
		out[normalizeKey(col)] = machineField{index: i, kind: f.Type.Elem().Kind()}
	}
	return out
}

func gormColumn(tag string) string {
	for _, part := range strings.Split(tag, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "column:"); ok {
			return v
		}
	}
	return ""
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// setMachineField assigns raw to the column matching key. It reports false
// when the key is unknown or the value does not fit the column type; the
// caller keeps such entries in MachineState.Extra.
func setMachineField(ms *quality.MachineState, key string, raw json.RawMessage) bool {
	mf, ok := machineFields[normalizeKey(key)]
	if !ok {
		return false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	field := reflect.ValueOf(ms).Elem().Field(mf.index)

	switch mf.kind {
	case reflect.Float64:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return false
		}
		field.Set(reflect.ValueOf(&v))
	case reflect.Int64:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return false
		}
		v, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return false
			}
			v = int64(f)
		}
		field.Set(reflect.ValueOf(&v))
	case reflect.Bool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			var n float64
			if nerr := json.Unmarshal(raw, &n); nerr != nil || (n != 0 && n != 1) {
				return false
			}
			v = n == 1
		}
		field.Set(reflect.ValueOf(&v))
	default:
		return false
	}
	return true
}
