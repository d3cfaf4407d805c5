package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		payload string
		exp     Event
		expErr  string
	}{
		{
			name:    "connect",
			kind:    KindConnect,
			payload: `{"id":"client-a","data":{"namespacedScene":"public/example"}}`,
			exp:     ConnectRequested{ClientID: "client-a", SceneID: "public/example"},
		},
		{
			name:    "disconnect",
			kind:    KindDisconnect,
			payload: `{"id":"client-a","data":"public/example"}`,
			exp:     DisconnectRequested{ClientID: "client-a", SceneID: "public/example"},
		},
		{
			name:    "status rendering",
			kind:    KindStatus,
			payload: `{"data":{"data":"public/example","remoteRendered":true}}`,
			exp:     StatusReported{SceneID: "public/example", Rendering: true},
		},
		{
			name:    "status not rendering",
			kind:    KindStatus,
			payload: `{"data":{"data":"public/example","remoteRendered":false}}`,
			exp:     StatusReported{SceneID: "public/example", Rendering: false},
		},
		{
			name:    "not json",
			kind:    KindConnect,
			payload: `{"id":`,
			expErr:  "not valid JSON",
		},
		{
			name:    "connect missing data",
			kind:    KindConnect,
			payload: `{"id":"client-a"}`,
			expErr:  "data field",
		},
		{
			name:    "connect missing scene",
			kind:    KindConnect,
			payload: `{"id":"client-a","data":{}}`,
			expErr:  "namespace info",
		},
		{
			name:    "connect missing client",
			kind:    KindConnect,
			payload: `{"data":{"namespacedScene":"public/example"}}`,
			expErr:  "client id",
		},
		{
			name:    "connect numeric client",
			kind:    KindConnect,
			payload: `{"id":7,"data":{"namespacedScene":"public/example"}}`,
			expErr:  "client id",
		},
		{
			name:    "disconnect missing data",
			kind:    KindDisconnect,
			payload: `{"id":"client-a"}`,
			expErr:  "data field",
		},
		{
			name:    "disconnect object data",
			kind:    KindDisconnect,
			payload: `{"id":"client-a","data":{"namespacedScene":"public/example"}}`,
			expErr:  "does not have a scene",
		},
		{
			name:    "disconnect missing client",
			kind:    KindDisconnect,
			payload: `{"data":"public/example"}`,
			expErr:  "client id",
		},
		{
			name:    "status string flag",
			kind:    KindStatus,
			payload: `{"data":{"data":"public/example","remoteRendered":"false"}}`,
			expErr:  "not a boolean",
		},
		{
			name:    "status missing flag",
			kind:    KindStatus,
			payload: `{"data":{"data":"public/example"}}`,
			expErr:  "not a boolean",
		},
		{
			name:    "status missing scene",
			kind:    KindStatus,
			payload: `{"data":{"remoteRendered":true}}`,
			expErr:  "does not have a scene",
		},
		{
			name:    "unknown kind",
			kind:    Kind("health"),
			payload: `{"data":{}}`,
			expErr:  "unknown event kind",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			evt, err := Decode(c.kind, []byte(c.payload))
			if c.expErr != "" {
				require.ErrorIs(t, err, ErrMalformedEvent)
				assert.ErrorContains(t, err, c.expErr)
				assert.Nil(t, evt)
				return
			}
			require.NoError(t, err)

			// the raw request is carried along for pairing, compare it separately
			if conn, ok := evt.(ConnectRequested); ok {
				assert.JSONEq(t, c.payload, string(conn.Request))
				conn.Request = nil
				evt = conn
			}
			assert.Equal(t, c.exp, evt)
		})
	}
}

func TestDecodeCopiesRequest(t *testing.T) {
	payload := []byte(`{"id":"a","data":{"namespacedScene":"s"}}`)
	evt, err := Decode(KindConnect, payload)
	require.NoError(t, err)

	payload[7] = 'z'
	assert.Equal(t, "a", gjson.GetBytes(evt.(ConnectRequested).Request, "id").Str)
}

func TestPairingPayload(t *testing.T) {
	req := []byte(`{"id":"client-a","data":{"namespacedScene":"public/example"},"extra":[1,2]}`)
	b, err := PairingPayload(req)
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"client-a","data":{"namespacedScene":"public/example"},"extra":[1,2],"type":"HAL"}`, string(b))
}

func TestPairingPayloadOverwritesType(t *testing.T) {
	b, err := PairingPayload([]byte(`{"id":"a","type":"client","data":{"namespacedScene":"s"}}`))
	require.NoError(t, err)
	assert.Equal(t, PairingRole, gjson.GetBytes(b, "type").Str)
}
