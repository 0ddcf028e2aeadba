package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttufish/tank-monitor/internal/model"
)

func TestDecodeSensor(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    model.Reading
		wantErr bool
	}{
		{
			name:    "all fields",
			payload: `{"temp":25.5,"ph":7.1,"tds":150,"turbidity":1.2,"ntu":120,"level":480}`,
			want:    model.Reading{Temperature: 25.5, PH: 7.1, TDS: 150, Turbidity: 1.2, TurbidityNTU: 120, WaterLevel: 480},
		},
		{
			name:    "missing fields read as zero",
			payload: `{"temp":22}`,
			want:    model.Reading{Temperature: 22},
		},
		{
			name:    "integer fields truncate",
			payload: `{"ntu":3000.9,"level":-2.7}`,
			want:    model.Reading{TurbidityNTU: 3000, WaterLevel: -2},
		},
		{
			name:    "huge integer fields saturate",
			payload: `{"ntu":1e20,"level":-1e20}`,
			want:    model.Reading{TurbidityNTU: math.MaxInt, WaterLevel: math.MinInt},
		},
		{
			name:    "numeric strings accepted",
			payload: `{"temp":" 18.5 ","level":"400"}`,
			want:    model.Reading{Temperature: 18.5, WaterLevel: 400},
		},
		{
			name:    "unknown keys ignored",
			payload: `{"temp":20,"humidity":55}`,
			want:    model.Reading{Temperature: 20},
		},
		{name: "invalid json", payload: `{"temp":`, wantErr: true},
		{name: "not an object", payload: `[1,2,3]`, wantErr: true},
		{name: "bare number", payload: `42`, wantErr: true},
		{name: "empty", payload: ``, wantErr: true},
		{name: "null value", payload: `{"temp":null}`, wantErr: true},
		{name: "non numeric string", payload: `{"ph":"neutral"}`, wantErr: true},
		{name: "boolean value", payload: `{"tds":true}`, wantErr: true},
		{name: "nan string", payload: `{"temp":"NaN"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSensor([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLog(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantType    string
		wantMessage string
		wantErr     bool
	}{
		{name: "both fields", payload: `{"event_type":"WARN","message":"pump restarted"}`, wantType: "WARN", wantMessage: "pump restarted"},
		{name: "defaults", payload: `{}`, wantType: model.EventTypeInfo, wantMessage: ""},
		{name: "null takes default", payload: `{"event_type":null,"message":"x"}`, wantType: model.EventTypeInfo, wantMessage: "x"},
		{name: "non string kept as json", payload: `{"message":{"code":7}}`, wantType: model.EventTypeInfo, wantMessage: `{"code":7}`},
		{name: "number message", payload: `{"message":12}`, wantType: model.EventTypeInfo, wantMessage: "12"},
		{name: "invalid json", payload: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotMessage, err := decodeLog([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantMessage, gotMessage)
		})
	}
}
