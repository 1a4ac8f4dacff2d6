package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	tests := []struct {
		name  string
		emit  func()
		field string
		want  string
	}{
		{
			name:  "component",
			emit:  func() { WithComponent("ledger").Debug().Msg("reserved") },
			field: "component",
			want:  "ledger",
		},
		{
			name:  "task",
			emit:  func() { WithTask("/requests/broker/t1").Info().Msg("started") },
			field: "task",
			want:  "/requests/broker/t1",
		},
		{
			name:  "context",
			emit:  func() { WithContext("ctx-1").Info().Msg("inspected") },
			field: "context_id",
			want:  "ctx-1",
		},
		{
			name:  "placement",
			emit:  func() { WithPlacement("/placements/p1").Warn().Msg("clamped") },
			field: "placement",
			want:  "/placements/p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.emit()

			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.want, line[tt.field])
		})
	}
}
