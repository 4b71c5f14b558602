package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := &Envelope{
		Type:       TypeCallTool,
		RequestID:  "r1",
		InstanceID: "i1",
		Payload:    json.RawMessage(`{"name":"foo","args":{"x":1}}`),
	}

	data, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.RequestID, got.RequestID)
	assert.Equal(t, e.InstanceID, got.InstanceID)
	assert.JSONEq(t, string(e.Payload), string(got.Payload))
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"NOT_A_REAL_TYPE"}`))
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
}

func TestDecodeRejectsBothCorrelationFields(t *testing.T) {
	_, err := Decode([]byte(`{"type":"CALL_TOOL","requestId":"r1","responseToRequestId":"r2"}`))
	require.Error(t, err)
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(&Envelope{Type: Type("BOGUS")})
	require.Error(t, err)
}

func TestIsRequestIsResponse(t *testing.T) {
	assert.True(t, IsRequest(TypeCallTool))
	assert.False(t, IsRequest(TypeCallToolResponse))
	assert.True(t, IsResponse(TypeCallToolResponse))
	assert.False(t, IsResponse(TypeCallTool))
	assert.False(t, IsRequest(TypePing))
	assert.False(t, IsResponse(TypePing))
}

func TestRequiresInstanceID(t *testing.T) {
	assert.True(t, RequiresInstanceID(TypeCallTool))
	assert.True(t, RequiresInstanceID(TypeCallToolResponse))
	assert.False(t, RequiresInstanceID(TypePing))
	assert.False(t, RequiresInstanceID(TypeInstanceRegister))
}

func TestPingPongSetNoCorrelationField(t *testing.T) {
	data, err := Encode(&Envelope{Type: TypePing})
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got.RequestID)
	assert.Empty(t, got.ResponseToRequestID)
}
