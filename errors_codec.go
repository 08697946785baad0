package bleu

import (
	"encoding/binary"
	"fmt"
)

// runtimeErrorTag values are the wire discriminants for RuntimeError
// variants inside a Response.Failure (§3 "RuntimeError").
type runtimeErrorTag uint8

const (
	tagTransportFailed runtimeErrorTag = iota + 1
	tagTimeout
	tagPeerUnreachable
	tagMethodNotFound
	tagDecodeFailed
	tagEncodeFailed
	tagCancelled
	tagNotPermitted
	tagPoweredOff
	tagUnauthorized
	tagOther
)

func appendRuntimeError(buf []byte, err RuntimeError) []byte {
	switch e := err.(type) {
	case ErrTransportFailed:
		buf = append(buf, byte(tagTransportFailed))
		return appendString(buf, e.Reason)
	case ErrTimeout:
		return append(buf, byte(tagTimeout))
	case ErrPeerUnreachable:
		buf = append(buf, byte(tagPeerUnreachable))
		return append(buf, e.Peer[:]...)
	case ErrMethodNotFound:
		buf = append(buf, byte(tagMethodNotFound))
		return appendString(buf, e.Method)
	case ErrDecodeFailed:
		buf = append(buf, byte(tagDecodeFailed))
		return appendString(buf, e.Reason)
	case ErrEncodeFailed:
		buf = append(buf, byte(tagEncodeFailed))
		return appendString(buf, e.Reason)
	case ErrCancelled:
		return append(buf, byte(tagCancelled))
	case ErrNotPermitted:
		return append(buf, byte(tagNotPermitted))
	case ErrPoweredOff:
		return append(buf, byte(tagPoweredOff))
	case ErrUnauthorized:
		return append(buf, byte(tagUnauthorized))
	default:
		buf = append(buf, byte(tagOther))
		var codeBuf [4]byte
		code, msg := errOtherParts(err)
		binary.BigEndian.PutUint32(codeBuf[:], code)
		buf = append(buf, codeBuf[:]...)
		return appendString(buf, msg)
	}
}

func errOtherParts(err RuntimeError) (uint32, string) {
	if o, ok := err.(ErrOther); ok {
		return o.Code, o.Message
	}
	return 0, err.Error()
}

func readRuntimeError(data []byte) (RuntimeError, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("bleu: truncated runtime error tag")
	}
	tag := runtimeErrorTag(data[0])
	data = data[1:]
	switch tag {
	case tagTransportFailed:
		reason, rest, err := readString(data)
		return ErrTransportFailed{Reason: reason}, rest, err
	case tagTimeout:
		return ErrTimeout{}, data, nil
	case tagPeerUnreachable:
		if len(data) < 16 {
			return nil, nil, fmt.Errorf("bleu: truncated peer id")
		}
		var peer AID
		copy(peer[:], data[:16])
		return ErrPeerUnreachable{Peer: peer}, data[16:], nil
	case tagMethodNotFound:
		method, rest, err := readString(data)
		return ErrMethodNotFound{Method: method}, rest, err
	case tagDecodeFailed:
		reason, rest, err := readString(data)
		return ErrDecodeFailed{Reason: reason}, rest, err
	case tagEncodeFailed:
		reason, rest, err := readString(data)
		return ErrEncodeFailed{Reason: reason}, rest, err
	case tagCancelled:
		return ErrCancelled{}, data, nil
	case tagNotPermitted:
		return ErrNotPermitted{}, data, nil
	case tagPoweredOff:
		return ErrPoweredOff{}, data, nil
	case tagUnauthorized:
		return ErrUnauthorized{}, data, nil
	case tagOther:
		if len(data) < 4 {
			return nil, nil, fmt.Errorf("bleu: truncated error code")
		}
		code := binary.BigEndian.Uint32(data[:4])
		msg, rest, err := readString(data[4:])
		return ErrOther{Code: code, Message: msg}, rest, err
	default:
		return nil, nil, fmt.Errorf("bleu: unknown runtime error tag %d", tag)
	}
}
