package event

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrMalformedEvent = errors.New("malformed event")

// PairingRole is the role marker added to a connect request before it is forwarded to a worker.
const PairingRole = "HAL"

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// Decode parses a raw notification of the given kind.
func Decode(kind Kind, payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return nil, malformed("payload is not valid JSON")
	}
	data := gjson.GetBytes(payload, "data")
	if !data.Exists() {
		return nil, malformed("request does not have a data field")
	}

	switch kind {
	case KindConnect:
		clientID, err := clientID(payload)
		if err != nil {
			return nil, err
		}
		scene := data.Get("namespacedScene")
		if scene.Type != gjson.String || scene.Str == "" {
			return nil, malformed("connect request does not have namespace info")
		}
		req := make([]byte, len(payload))
		copy(req, payload)
		return ConnectRequested{ClientID: clientID, SceneID: scene.Str, Request: req}, nil

	case KindDisconnect:
		clientID, err := clientID(payload)
		if err != nil {
			return nil, err
		}
		if data.Type != gjson.String || data.Str == "" {
			return nil, malformed("disconnect request does not have a scene")
		}
		return DisconnectRequested{ClientID: clientID, SceneID: data.Str}, nil

	case KindStatus:
		scene := data.Get("data")
		if scene.Type != gjson.String || scene.Str == "" {
			return nil, malformed("status report does not have a scene")
		}
		rendered := data.Get("remoteRendered")
		if rendered.Type != gjson.True && rendered.Type != gjson.False {
			return nil, malformed("status report remoteRendered is not a boolean")
		}
		return StatusReported{SceneID: scene.Str, Rendering: rendered.Bool()}, nil
	}

	return nil, malformed("unknown event kind %q", kind)
}

func clientID(payload []byte) (string, error) {
	id := gjson.GetBytes(payload, "id")
	if id.Type != gjson.String || id.Str == "" {
		return "", malformed("request does not have a client id")
	}
	return id.Str, nil
}

// PairingPayload returns the connect request annotated with the pairing role marker.
func PairingPayload(request []byte) ([]byte, error) {
	b, err := sjson.SetBytes(request, "type", PairingRole)
	if err != nil {
		return nil, fmt.Errorf("annotating connect request: %w", err)
	}
	return b, nil
}
