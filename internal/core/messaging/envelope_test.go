package messaging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ResponseWireFormat(t *testing.T) {
	ch := NewChannel("widgets", 2)
	snap := Snapshot{Data: []Item{{Raw: json.RawMessage(`{"id":1}`)}}}

	raw, err := EncodeEnvelope(Response(ch, snap))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"company/widgets/v2/response","payload":{"data":[{"id":1}]}}`, string(raw))
}

func TestEnvelope_RequestWireFormat(t *testing.T) {
	raw, err := EncodeEnvelope(Request(NewChannel("widgets", 1)))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"company/widgets/v1/request"}`, string(raw))
}

func TestEnvelope_ErrorWireFormat(t *testing.T) {
	snap := Snapshot{Data: []Item{}, Error: NewFetchError(errors.New("connection refused"))}

	raw, err := EncodeEnvelope(Response(NewChannel("widgets", 1), snap))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"company/widgets/v1/response","payload":{"data":[],"error":{"message":"connection refused"}}}`, string(raw))
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantItems int
	}{
		{name: "request", raw: `{"type":"company/widgets/v1/request"}`},
		{name: "refresh", raw: `{"type":"company/widgets/v1/refresh"}`},
		{name: "request with null payload", raw: `{"type":"company/widgets/v1/request","payload":null}`},
		{name: "response", raw: `{"type":"company/widgets/v1/response","payload":{"data":[{"item":{"id":1}},{"item":{"id":2}}]}}`, wantItems: 2},
		{name: "response bare objects", raw: `{"type":"company/widgets/v1/response","payload":{"data":[{"id":1}]}}`, wantItems: 1},
		{name: "response scalars", raw: `{"type":"company/widgets/v1/response","payload":{"data":[1,"a"]}}`, wantItems: 2},
		{name: "response null data", raw: `{"type":"company/widgets/v1/response","payload":{"data":null}}`},
		{name: "response with error", raw: `{"type":"company/widgets/v1/response","payload":{"data":[],"error":{"message":"boom"}}}`},
		{name: "not json", raw: `nope`, wantErr: true},
		{name: "missing type", raw: `{}`, wantErr: true},
		{name: "unknown kind", raw: `{"type":"company/widgets/v1/delete"}`, wantErr: true},
		{name: "request with payload", raw: `{"type":"company/widgets/v1/request","payload":{"data":[]}}`, wantErr: true},
		{name: "response without payload", raw: `{"type":"company/widgets/v1/response"}`, wantErr: true},
		{name: "data object", raw: `{"type":"company/widgets/v1/response","payload":{"data":{"item":1}}}`, wantErr: true},
		{name: "data string", raw: `{"type":"company/widgets/v1/response","payload":{"data":"x"}}`, wantErr: true},
		{name: "payload array", raw: `{"type":"company/widgets/v1/response","payload":[]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEnvelope), "error should wrap ErrMalformedEnvelope: %v", err)
				return
			}
			require.NoError(t, err)
			if env.Type.Kind() == KindResponse {
				require.NotNil(t, env.Payload)
				assert.NotNil(t, env.Payload.Data)
				assert.Len(t, env.Payload.Data, tt.wantItems)
			} else {
				assert.Nil(t, env.Payload)
			}
		})
	}
}

func TestDecodeEnvelope_DataRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "bare objects", data: `[{"id":1}]`},
		{name: "scalars", data: `[1,"a"]`},
		{name: "wrapped items", data: `[{"item":{"id":1}},{"name":"x"}]`},
		{name: "nested and null", data: `[[1,2],null,{"a":{"b":true}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"type":"company/widgets/v1/response","payload":{"data":` + tt.data + `}}`
			env, err := DecodeEnvelope([]byte(raw))
			require.NoError(t, err)

			got, err := json.Marshal(env.Payload.Data)
			require.NoError(t, err)
			assert.JSONEq(t, tt.data, string(got))

			out, err := EncodeEnvelope(env)
			require.NoError(t, err)
			assert.JSONEq(t, raw, string(out))
		})
	}
}

func TestDecodeEnvelope_PreservesError(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"company/widgets/v1/response","payload":{"data":[],"error":{"message":"boom"}}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Payload.Error)
	assert.Equal(t, "boom", env.Payload.Error.Error())
}

func TestFetchError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	fe := NewFetchError(cause)

	assert.True(t, errors.Is(fe, cause))
	assert.Nil(t, NewFetchError(nil))
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	orig := Snapshot{Data: []Item{{Raw: json.RawMessage(`{"id":1}`)}}}
	cp := orig.Clone()
	cp.Data[0].Raw[2] = 'X'

	assert.Equal(t, `{"id":1}`, string(orig.Data[0].Raw))
	assert.True(t, EmptySnapshot().IsEmpty())
	assert.False(t, orig.IsEmpty())
}
