package fleet

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// MessageType is the "type" discriminant of a control channel frame
type MessageType string

const (
	TypeImageTypes  MessageType = "image_types"
	TypeNewManifest MessageType = "new_manifest"
	TypeCommand     MessageType = "command"
	TypeReport      MessageType = "report"
)

// CommandReboot asks the node to reboot, optionally into a given image
const CommandReboot = "reboot"

// envelope is the wire shape of every frame
type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ImageTypes lists the image types the server publishes
type ImageTypes struct {
	ImageTypes []string `json:"image_types"`
}

// NewManifest announces a new manifest for one image type
type NewManifest struct {
	ImageType string `json:"image_type"`
}

// Command is a remote instruction for this node
type Command struct {
	Command   string `json:"command"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Message is a decoded inbound frame. Exactly one payload is set, matching Type.
type Message struct {
	Type        MessageType
	ImageTypes  *ImageTypes
	NewManifest *NewManifest
	Command     *Command
}

// Decode parses one inbound frame
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	msg := Message{Type: env.Type}
	var payload any
	switch env.Type {
	case TypeImageTypes:
		msg.ImageTypes = &ImageTypes{}
		payload = msg.ImageTypes
	case TypeNewManifest:
		msg.NewManifest = &NewManifest{}
		payload = msg.NewManifest
	case TypeCommand:
		msg.Command = &Command{}
		payload = msg.Command
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	if len(env.Data) == 0 {
		return Message{}, fmt.Errorf("%w: %s frame without data", ErrMalformedMessage, env.Type)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, env.Type, err)
	}
	return msg, nil
}

// Report is the periodic node state sent to the server
type Report struct {
	Hostname      string
	UptimeSeconds int64
	NextTimestamp int64
	NextVolumeID  string
	Status        string
	// Extra holds the static node config fields. They are merged into the
	// report and take precedence over the computed fields.
	Extra map[string]any
}

func (r Report) MarshalJSON() ([]byte, error) {
	fields := map[string]any{
		"hostname":       r.Hostname,
		"uptime_seconds": r.UptimeSeconds,
		"next_timestamp": r.NextTimestamp,
		"next_volume_id": r.NextVolumeID,
	}
	if r.Status != "" {
		fields["status"] = r.Status
	}
	return json.Marshal(lo.Assign(fields, r.Extra))
}

// EncodeReport builds an outbound report frame
func EncodeReport(r Report) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return json.Marshal(envelope{Type: TypeReport, Data: data})
}
