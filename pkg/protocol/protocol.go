// Package protocol defines the wire-level messages exchanged between a
// Vocalink client and a recognition backend over a duplex WebSocket.
//
// Control messages are JSON text frames carrying a top-level "type" field;
// audio travels out-of-band as binary frames (see [EncodeFrame]). Ordering
// between the two is significant on a single connection: a recording_start_ack
// must be received before the first audio frame is sent.
//
// [Decode] performs two-pass decoding — the "type" field is inspected first,
// then the full message is unmarshalled into the matching Go type. Messages
// with an unrecognised type decode into [Unknown] so that newer backends can
// add message types without breaking older clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version declared in the hello message.
const Version = 1

// Message type discriminators carried in the "type" field.
const (
	TypeHello             = "hello"
	TypeHelloAck          = "hello_ack"
	TypeRecordingStart    = "recording_start"
	TypeRecordingStartAck = "recording_start_ack"
	TypeRecordingEnd      = "recording_end"
	TypeRecordingEndAck   = "recording_end_ack"
	TypeSTTResult         = "stt_result"
	TypeError             = "error"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatAck      = "heartbeat_ack"
)

// Status values carried in a [HelloAck].
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
)

// Capabilities declares what the client intends to use on this connection.
type Capabilities struct {
	Audio     bool   `json:"audio"`
	STT       bool   `json:"stt"`
	PCMFormat string `json:"pcm_format"`
}

// AudioParams is the wire representation of the negotiated PCM format.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

// Hello opens a session: the client declares its session id, capabilities,
// and audio format. The backend answers with a [HelloAck] carrying the same
// session id.
type Hello struct {
	Type         string       `json:"type"`
	SessionID    string       `json:"session_id"`
	Version      int          `json:"version"`
	Capabilities Capabilities `json:"capabilities"`
	AudioParams  AudioParams  `json:"audio_params"`
}

// HelloAck acknowledges a [Hello]. Status is [StatusOK] on success.
type HelloAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RecordingStart announces that audio frames for the session will follow.
type RecordingStart struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RecordingStartAck acknowledges a [RecordingStart]. The client must not send
// audio frames before receiving it.
type RecordingStartAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RecordingEnd is the explicit end-of-utterance marker. The backend flushes
// pending audio and emits a final [STTResult].
type RecordingEnd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RecordingEndAck acknowledges a [RecordingEnd].
type RecordingEndAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ResultData is the recognition payload of an [STTResult].
type ResultData struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// STTResult carries an interim or final recognition result for a session.
type STTResult struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	Data      ResultData `json:"data"`
}

// ErrorData is the payload of an [Error] message.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error reports a backend-side failure. Whether it is fatal to the session is
// decided by the error code taxonomy, not by the message itself.
type Error struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Data      ErrorData `json:"data"`
}

// Heartbeat is an application-level keepalive sent on a fixed interval while
// a connection is Ready or Streaming.
type Heartbeat struct {
	Type string `json:"type"`
}

// HeartbeatAck answers a [Heartbeat].
type HeartbeatAck struct {
	Type string `json:"type"`
}

// Unknown wraps a message whose type the client does not recognise. Callers
// log and ignore these; they are never an error.
type Unknown struct {
	MessageType string
	Raw         json.RawMessage
}

// Error codes carried in [ErrorData]. Codes at or above 5000 are fatal to the
// session; lower codes are recoverable application-level warnings.
const (
	CodeDecodeWarning     = 4100 // transient decode issue, session survives
	CodeRecognizerBusy    = 4200 // backend overloaded, session survives
	CodeSequenceViolation = 5001 // frame out of order — session must restart
	CodeMalformedMessage  = 5002 // unparseable control message
	CodeSessionUnknown    = 5003 // frame or control for an unknown session id
)

// FatalCode reports whether the given error code is fatal to the session.
func FatalCode(code int) bool { return code >= 5000 }

// Encode marshals a control message to its JSON wire form. The message's
// Type field must already be set; the New* constructors guarantee this.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// Decode parses a JSON control message into its typed Go form. Unrecognised
// types decode into [Unknown]. A message without a "type" field is an error.
func Decode(data []byte) (any, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if peek.Type == "" {
		return nil, fmt.Errorf("protocol: message missing type field")
	}

	var msg any
	switch peek.Type {
	case TypeHello:
		msg = &Hello{}
	case TypeHelloAck:
		msg = &HelloAck{}
	case TypeRecordingStart:
		msg = &RecordingStart{}
	case TypeRecordingStartAck:
		msg = &RecordingStartAck{}
	case TypeRecordingEnd:
		msg = &RecordingEnd{}
	case TypeRecordingEndAck:
		msg = &RecordingEndAck{}
	case TypeSTTResult:
		msg = &STTResult{}
	case TypeError:
		msg = &Error{}
	case TypeHeartbeat:
		msg = &Heartbeat{}
	case TypeHeartbeatAck:
		msg = &HeartbeatAck{}
	default:
		return &Unknown{MessageType: peek.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", peek.Type, err)
	}
	return msg, nil
}

// NewHello builds a [Hello] for the given session and audio format.
func NewHello(sessionID string, params AudioParams) Hello {
	return Hello{
		Type:      TypeHello,
		SessionID: sessionID,
		Version:   Version,
		Capabilities: Capabilities{
			Audio:     true,
			STT:       true,
			PCMFormat: params.Format,
		},
		AudioParams: params,
	}
}

// NewHelloAck builds a [HelloAck] answering sessionID with the given status.
func NewHelloAck(sessionID, status string) HelloAck {
	return HelloAck{Type: TypeHelloAck, SessionID: sessionID, Status: status}
}

// NewRecordingStart builds a [RecordingStart] for sessionID.
func NewRecordingStart(sessionID string) RecordingStart {
	return RecordingStart{Type: TypeRecordingStart, SessionID: sessionID}
}

// NewRecordingStartAck builds a [RecordingStartAck] for sessionID.
func NewRecordingStartAck(sessionID string) RecordingStartAck {
	return RecordingStartAck{Type: TypeRecordingStartAck, SessionID: sessionID}
}

// NewRecordingEnd builds a [RecordingEnd] for sessionID.
func NewRecordingEnd(sessionID string) RecordingEnd {
	return RecordingEnd{Type: TypeRecordingEnd, SessionID: sessionID}
}

// NewRecordingEndAck builds a [RecordingEndAck] for sessionID.
func NewRecordingEndAck(sessionID string) RecordingEndAck {
	return RecordingEndAck{Type: TypeRecordingEndAck, SessionID: sessionID}
}

// NewSTTResult builds an [STTResult] for sessionID.
func NewSTTResult(sessionID, text string, isFinal bool, confidence float64) STTResult {
	return STTResult{
		Type:      TypeSTTResult,
		SessionID: sessionID,
		Data:      ResultData{Text: text, IsFinal: isFinal, Confidence: confidence},
	}
}

// NewError builds an [Error] for sessionID.
func NewError(sessionID string, code int, message string) Error {
	return Error{
		Type:      TypeError,
		SessionID: sessionID,
		Data:      ErrorData{Code: code, Message: message},
	}
}

// NewHeartbeat builds a [Heartbeat].
func NewHeartbeat() Heartbeat { return Heartbeat{Type: TypeHeartbeat} }

// NewHeartbeatAck builds a [HeartbeatAck].
func NewHeartbeatAck() HeartbeatAck { return HeartbeatAck{Type: TypeHeartbeatAck} }
