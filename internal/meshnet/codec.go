package meshnet

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"icn-mesh/internal/identity"
)

// Codec serializes/deserializes ProtocolMessage deterministically, so
// signatures computed over encoded bytes are stable across processes. Two
// codecs satisfy the same contract: JSON for test/debugging, gob for
// production.
type Codec interface {
	Encode(msg ProtocolMessage) ([]byte, error)
	Decode(data []byte) (ProtocolMessage, error)
	// EnvelopeSignableBytes returns the deterministic bytes the envelope
	// signature is computed over (payload encoding + sender/recipient/timestamp).
	EnvelopeSignableBytes(msg ProtocolMessage) ([]byte, error)
}

// wireMessage is the on-the-wire shape: the payload is split into a kind
// tag plus its own encoded bytes so a decoder can dispatch to the right
// concrete type of a tagged union.
type wireMessage struct {
	Version      uint16
	PayloadKind  PayloadKind
	PayloadBytes []byte
	Sender       identity.DID
	Recipient    *identity.DID
	Timestamp    int64
	Signature    []byte
}

func toWire(enc func(any) ([]byte, error), msg ProtocolMessage) (wireMessage, error) {
	pb, err := enc(msg.Payload)
	if err != nil {
		return wireMessage{}, fmt.Errorf("meshnet: encode payload: %w", err)
	}
	return wireMessage{
		Version:      msg.Version,
		PayloadKind:  msg.Payload.Kind(),
		PayloadBytes: pb,
		Sender:       msg.Sender,
		Recipient:    msg.Recipient,
		Timestamp:    msg.Timestamp,
		Signature:    msg.Signature,
	}, nil
}

func fromWire(dec func([]byte, any) error, w wireMessage) (ProtocolMessage, error) {
	payload, err := decodePayload(dec, w.PayloadKind, w.PayloadBytes)
	if err != nil {
		return ProtocolMessage{}, err
	}
	return ProtocolMessage{
		Version:   w.Version,
		Payload:   payload,
		Sender:    w.Sender,
		Recipient: w.Recipient,
		Timestamp: w.Timestamp,
		Signature: w.Signature,
	}, nil
}

func decodePayload(dec func([]byte, any) error, kind PayloadKind, raw []byte) (Payload, error) {
	switch kind {
	case PayloadJobAnnouncement:
		var p JobAnnouncementPayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PayloadBidSubmission:
		var p BidSubmissionPayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PayloadJobAssignment:
		var p JobAssignmentPayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PayloadReceiptSubmission:
		var p ReceiptSubmissionPayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PayloadGovernanceProposal:
		var p GovernanceProposalPayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PayloadGovernanceVote:
		var p GovernanceVotePayload
		if err := dec(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("meshnet: unknown payload kind %q", kind)
	}
}

// JSONCodec is the deterministic test/debug wire codec.
type JSONCodec struct{}

func (JSONCodec) Encode(msg ProtocolMessage) ([]byte, error) {
	w, err := toWire(json.Marshal, msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (JSONCodec) Decode(data []byte) (ProtocolMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return ProtocolMessage{}, fmt.Errorf("meshnet: decode envelope: %w", err)
	}
	return fromWire(func(b []byte, v any) error { return json.Unmarshal(b, v) }, w)
}

func (JSONCodec) EnvelopeSignableBytes(msg ProtocolMessage) ([]byte, error) {
	pb, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	signable := struct {
		Version   uint16
		Payload   []byte
		Sender    identity.DID
		Recipient *identity.DID
		Timestamp int64
	}{msg.Version, pb, msg.Sender, msg.Recipient, msg.Timestamp}
	return json.Marshal(signable)
}

// GobCodec is the production binary wire codec.
type GobCodec struct{}

func init() {
	gob.Register(JobAnnouncementPayload{})
	gob.Register(BidSubmissionPayload{})
	gob.Register(JobAssignmentPayload{})
	gob.Register(ReceiptSubmissionPayload{})
	gob.Register(GovernanceProposalPayload{})
	gob.Register(GovernanceVotePayload{})
}

func (GobCodec) Encode(msg ProtocolMessage) ([]byte, error) {
	w, err := toWire(gobEncode, msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("meshnet: gob encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte) (ProtocolMessage, error) {
	var w wireMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return ProtocolMessage{}, fmt.Errorf("meshnet: gob decode envelope: %w", err)
	}
	return fromWire(gobDecode, w)
}

func (GobCodec) EnvelopeSignableBytes(msg ProtocolMessage) ([]byte, error) {
	pb, err := gobEncode(msg.Payload)
	if err != nil {
		return nil, err
	}
	signable := struct {
		Version   uint16
		Payload   []byte
		Sender    identity.DID
		Recipient *identity.DID
		Timestamp int64
	}{msg.Version, pb, msg.Sender, msg.Recipient, msg.Timestamp}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(signable); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
