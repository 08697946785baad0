package bleu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationRoundTrip(t *testing.T) {
	inv := Invocation{
		Header:    Header{CallID: NewCallID(), Sender: NewAID(), HasSender: true, Recipient: NewAID()},
		Target:    "increment",
		Arguments: []byte{0x01, 0x02, 0x03},
	}
	decoded, err := DecodeEnvelope(EncodeInvocation(inv))
	require.NoError(t, err)
	got, ok := decoded.(Invocation)
	require.True(t, ok)
	assert.Equal(t, inv, got)
}

// TestArgumentsNotDoubleEncoded is §8 property 10: decode(encode(A)).arguments
// == A byte-for-byte, with no base64 or nested-string wrapping.
func TestArgumentsNotDoubleEncoded(t *testing.T) {
	args := []byte("not-base64-just-raw-bytes-\x00\xff")
	inv := Invocation{Header: Header{CallID: NewCallID(), Recipient: NewAID()}, Target: "echo", Arguments: args}
	decoded, err := DecodeEnvelope(EncodeInvocation(inv))
	require.NoError(t, err)
	got := decoded.(Invocation)
	assert.Equal(t, args, got.Arguments)
}

func TestResponseRoundTripSuccess(t *testing.T) {
	h := Header{CallID: NewCallID(), Recipient: NewAID()}
	resp := successResponse(h, []byte{0x22, 0x80})
	decoded, err := DecodeEnvelope(EncodeResponse(resp))
	require.NoError(t, err)
	got, ok := decoded.(Response)
	require.True(t, ok)
	assert.Equal(t, resp, got)
}

func TestResponseRoundTripVoid(t *testing.T) {
	h := Header{CallID: NewCallID()}
	resp := voidResponse(h)
	decoded, err := DecodeEnvelope(EncodeResponse(resp))
	require.NoError(t, err)
	got := decoded.(Response)
	assert.Equal(t, responseVoid, got.Kind)
}

func TestResponseRoundTripFailure(t *testing.T) {
	h := Header{CallID: NewCallID()}
	resp := failureResponse(h, ErrMethodNotFound{Method: "frobnicate"})
	decoded, err := DecodeEnvelope(EncodeResponse(resp))
	require.NoError(t, err)
	got := decoded.(Response)
	require.NotNil(t, got.Failure)
	assert.Equal(t, "method_not_found", Code(got.Failure))
	assert.Equal(t, ErrMethodNotFound{Method: "frobnicate"}, got.Failure)
}

func TestDecodeUnknownVersionFails(t *testing.T) {
	inv := Invocation{Header: Header{CallID: NewCallID()}, Target: "x"}
	data := EncodeInvocation(inv)
	data[0] = 0xFF // corrupt version byte
	_, err := DecodeEnvelope(data)
	assert.Error(t, err)
}

func TestDecodeTruncatedFails(t *testing.T) {
	inv := Invocation{Header: Header{CallID: NewCallID()}, Target: "x", Arguments: []byte("hello")}
	data := EncodeInvocation(inv)
	_, err := DecodeEnvelope(data[:len(data)-2])
	assert.Error(t, err)
}
