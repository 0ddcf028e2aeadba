package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ttufish/tank-monitor/internal/model"
)

var errNotObject = errors.New("payload is not a JSON object")

func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return fields, nil
}

// decodeSensor maps a sensor-topic payload onto a Reading. Absent fields read
// as zero; a field that is present must be a number or a numeric string.
func decodeSensor(payload []byte) (model.Reading, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return model.Reading{}, err
	}

	var (
		r       model.Reading
		ntu     float64
		level   float64
		targets = []struct {
			key string
			dst *float64
		}{
			{"temp", &r.Temperature},
			{"ph", &r.PH},
			{"tds", &r.TDS},
			{"turbidity", &r.Turbidity},
			{"ntu", &ntu},
			{"level", &level},
		}
	)

	for _, t := range targets {
		raw, ok := fields[t.key]
		if !ok {
			continue
		}
		v, err := numeric(raw)
		if err != nil {
			return model.Reading{}, fmt.Errorf("field %q: %w", t.key, err)
		}
		*t.dst = v
	}

	r.TurbidityNTU = truncInt(ntu)
	r.WaterLevel = truncInt(level)
	return r, nil
}

// truncInt truncates v toward zero, saturating at the int range.
func truncInt(v float64) int {
	switch {
	case v >= math.MaxInt:
		return math.MaxInt
	case v <= math.MinInt:
		return math.MinInt
	}
	return int(math.Trunc(v))
}

func numeric(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("value is null")
	}

	var v float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", s)
		}
		v = parsed
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("not numeric: %s", raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %s", raw)
	}
	return v, nil
}

// decodeLog extracts event_type and message from a log-topic payload.
// Missing or null values take their defaults; other non-string values are
// kept as their JSON text.
func decodeLog(payload []byte) (eventType, message string, err error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return "", "", err
	}
	return textField(fields, "event_type", model.EventTypeInfo), textField(fields, "message", ""), nil
}

func textField(fields map[string]json.RawMessage, key, def string) string {
	raw, ok := fields[key]
	if !ok {
		return def
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
