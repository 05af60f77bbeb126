package fleet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	ts := int64(1700000000)

	tests := []struct {
		name    string
		frame   string
		want    Message
		wantErr error
	}{
		{
			name:  "image types",
			frame: `{"type":"image_types","data":{"image_types":["prod","dev"]}}`,
			want:  Message{Type: TypeImageTypes, ImageTypes: &ImageTypes{ImageTypes: []string{"prod", "dev"}}},
		},
		{
			name:  "new manifest",
			frame: `{"type":"new_manifest","data":{"image_type":"prod"}}`,
			want:  Message{Type: TypeNewManifest, NewManifest: &NewManifest{ImageType: "prod"}},
		},
		{
			name:  "pinned reboot",
			frame: `{"type":"command","data":{"command":"reboot","timestamp":1700000000}}`,
			want:  Message{Type: TypeCommand, Command: &Command{Command: CommandReboot, Timestamp: &ts}},
		},
		{
			name:  "unpinned reboot",
			frame: `{"type":"command","data":{"command":"reboot"}}`,
			want:  Message{Type: TypeCommand, Command: &Command{Command: CommandReboot}},
		},
		{
			name:    "unknown type",
			frame:   `{"type":"bogus","data":{}}`,
			wantErr: ErrUnknownMessageType,
		},
		{
			name:    "report is outbound only",
			frame:   `{"type":"report","data":{}}`,
			wantErr: ErrUnknownMessageType,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "missing data",
			frame:   `{"type":"new_manifest"}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "wrong payload shape",
			frame:   `{"type":"image_types","data":{"image_types":"prod"}}`,
			wantErr: ErrMalformedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestEncodeReport(t *testing.T) {
	data, err := EncodeReport(Report{
		Hostname:      "node-1",
		UptimeSeconds: 42,
		NextTimestamp: 1700000000,
		NextVolumeID:  "ICO 1700000000",
		Extra:         map[string]any{"image_type": "prod", "rack": "r7"},
	})
	require.NoError(t, err)

	var frame struct {
		Type MessageType    `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))

	assert.Equal(t, TypeReport, frame.Type)
	assert.Equal(t, map[string]any{
		"hostname":       "node-1",
		"uptime_seconds": float64(42),
		"next_timestamp": float64(1700000000),
		"next_volume_id": "ICO 1700000000",
		"image_type":     "prod",
		"rack":           "r7",
	}, frame.Data)
}

func TestEncodeReport_StatusAndOverrides(t *testing.T) {
	data, err := EncodeReport(Report{
		Hostname: "node-1",
		Status:   "Rebooting...",
		Extra:    map[string]any{"hostname": "configured"},
	})
	require.NoError(t, err)

	var frame struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))

	assert.Equal(t, "Rebooting...", frame.Data["status"])
	// Node config fields win over computed ones
	assert.Equal(t, "configured", frame.Data["hostname"])
}
