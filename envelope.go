package bleu

import (
	"encoding/binary"
	"fmt"
)

// envelopeVersion is the only wire version this runtime speaks; an unknown
// version on decode fails with ErrDecodeFailed (§4.3 "Envelope codec").
const envelopeVersion uint8 = 1

type envelopeKind uint8

const (
	kindInvocation envelopeKind = 1
	kindResponse   envelopeKind = 2
)

type responseKind uint8

const (
	responseSuccess responseKind = 1
	responseVoid    responseKind = 2
	responseFailure responseKind = 3
)

// Header is the common prefix of both Envelope kinds (§3 "Envelope").
type Header struct {
	CallID    CallID
	Sender    AID // meaningful only when HasSender is true (optional)
	HasSender bool
	Recipient AID
}

// Invocation carries a method call (§3).
type Invocation struct {
	Header
	Target    string
	Arguments []byte
}

// Response carries a call's outcome (§3). Exactly one of Success/Void/
// Failure is populated, selected by Kind.
type Response struct {
	Header
	Kind    responseKind
	Success []byte
	Failure RuntimeError
}

func successResponse(h Header, payload []byte) Response {
	return Response{Header: h, Kind: responseSuccess, Success: payload}
}

func voidResponse(h Header) Response {
	return Response{Header: h, Kind: responseVoid}
}

func failureResponse(h Header, err RuntimeError) Response {
	return Response{Header: h, Kind: responseFailure, Failure: err}
}

// EncodeInvocation serializes an Invocation to bytes. Arguments is placed
// verbatim — never re-encoded as a nested string (§4.3, §8 property 10).
func EncodeInvocation(inv Invocation) []byte {
	buf := make([]byte, 0, headerLen+2+len(inv.Target)+4+len(inv.Arguments))
	buf = appendHeader(buf, inv.Header)
	buf = append(buf, byte(kindInvocation))
	buf = appendString(buf, inv.Target)
	buf = appendBytes(buf, inv.Arguments)
	return buf
}

// EncodeResponse serializes a Response to bytes.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, 0, headerLen+64)
	buf = appendHeader(buf, resp.Header)
	buf = append(buf, byte(kindResponse))
	buf = append(buf, byte(resp.Kind))
	switch resp.Kind {
	case responseSuccess:
		buf = appendBytes(buf, resp.Success)
	case responseVoid:
		// no payload
	case responseFailure:
		buf = appendRuntimeError(buf, resp.Failure)
	}
	return buf
}

// DecodeEnvelope decodes either kind of envelope. The caller type-switches
// on the returned value (Invocation or Response).
func DecodeEnvelope(data []byte) (any, error) {
	h, rest, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("bleu: envelope truncated before kind byte")
	}
	kind := envelopeKind(rest[0])
	rest = rest[1:]
	switch kind {
	case kindInvocation:
		target, rest, err := readString(rest)
		if err != nil {
			return nil, err
		}
		args, _, err := readBytes(rest)
		if err != nil {
			return nil, err
		}
		return Invocation{Header: h, Target: target, Arguments: args}, nil
	case kindResponse:
		if len(rest) < 1 {
			return nil, fmt.Errorf("bleu: response truncated before response kind")
		}
		rk := responseKind(rest[0])
		rest = rest[1:]
		switch rk {
		case responseSuccess:
			payload, _, err := readBytes(rest)
			if err != nil {
				return nil, err
			}
			return successResponse(h, payload), nil
		case responseVoid:
			return voidResponse(h), nil
		case responseFailure:
			rt, _, err := readRuntimeError(rest)
			if err != nil {
				return nil, err
			}
			return failureResponse(h, rt), nil
		default:
			return nil, fmt.Errorf("bleu: unknown response kind %d", rk)
		}
	default:
		return nil, fmt.Errorf("bleu: unknown envelope kind %d", kind)
	}
}

const headerLen = 1 + 16 + 1 + 16 + 16 // version + call_id + has_sender + sender + recipient

func appendHeader(buf []byte, h Header) []byte {
	buf = append(buf, envelopeVersion)
	buf = append(buf, h.CallID[:]...)
	if h.HasSender {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, h.Sender[:]...)
	buf = append(buf, h.Recipient[:]...)
	return buf
}

func decodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < headerLen {
		return Header{}, nil, fmt.Errorf("bleu: envelope shorter than header")
	}
	version := data[0]
	if version != envelopeVersion {
		return Header{}, nil, ErrDecodeFailed{Reason: fmt.Sprintf("unknown envelope version %d", version)}
	}
	off := 1
	var h Header
	copy(h.CallID[:], data[off:off+16])
	off += 16
	h.HasSender = data[off] == 1
	off++
	copy(h.Sender[:], data[off:off+16])
	off += 16
	copy(h.Recipient[:], data[off:off+16])
	off += 16
	return h, data[off:], nil
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func readString(data []byte) (string, []byte, error) {
	b, rest, err := readBytes(data)
	return string(b), rest, err
}

func readBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("bleu: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("bleu: truncated payload: want %d have %d", n, len(data))
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}
