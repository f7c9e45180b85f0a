// Package meshnet implements the ICN mesh network service: authenticated
// pub/sub plus direct send over a fixed protocol message set.
package meshnet

import (
	"time"

	"icn-mesh/internal/identity"
	"icn-mesh/internal/types"
)

// PayloadKind discriminates the ProtocolMessage payload sum type.
// The set is closed: no other payload kinds exist on the wire.
type PayloadKind string

const (
	PayloadJobAnnouncement    PayloadKind = "mesh_job_announcement"
	PayloadBidSubmission      PayloadKind = "mesh_bid_submission"
	PayloadJobAssignment      PayloadKind = "mesh_job_assignment"
	PayloadReceiptSubmission  PayloadKind = "mesh_receipt_submission"
	PayloadGovernanceProposal PayloadKind = "governance_proposal_announcement"
	PayloadGovernanceVote     PayloadKind = "governance_vote_announcement"
)

// topicFor maps a payload kind to its fixed gossip topic. The protocol's
// payload set is closed, so topics are a fixed table rather than an
// arbitrary caller-supplied string.
var topicFor = map[PayloadKind]string{
	PayloadJobAnnouncement:    "mesh/job-announce",
	PayloadBidSubmission:      "mesh/bid",
	PayloadJobAssignment:      "mesh/assignment",
	PayloadReceiptSubmission:  "mesh/receipt",
	PayloadGovernanceProposal: "governance/proposal",
	PayloadGovernanceVote:     "governance/vote",
}

// AllTopics returns every fixed gossip topic the service subscribes to.
func AllTopics() []string {
	out := make([]string, 0, len(topicFor))
	for _, t := range topicFor {
		out = append(out, t)
	}
	return out
}

// Payload is the sealed interface every ProtocolMessage payload implements.
type Payload interface {
	Kind() PayloadKind
}

type JobAnnouncementPayload struct{ Job types.Job }

func (JobAnnouncementPayload) Kind() PayloadKind { return PayloadJobAnnouncement }

type BidSubmissionPayload struct{ Bid types.Bid }

func (BidSubmissionPayload) Kind() PayloadKind { return PayloadBidSubmission }

type JobAssignmentPayload struct{ Assignment types.JobAssignment }

func (JobAssignmentPayload) Kind() PayloadKind { return PayloadJobAssignment }

type ReceiptSubmissionPayload struct{ Receipt types.ExecutionReceipt }

func (ReceiptSubmissionPayload) Kind() PayloadKind { return PayloadReceiptSubmission }

type GovernanceProposalPayload struct{ Raw []byte }

func (GovernanceProposalPayload) Kind() PayloadKind { return PayloadGovernanceProposal }

type GovernanceVotePayload struct{ Raw []byte }

func (GovernanceVotePayload) Kind() PayloadKind { return PayloadGovernanceVote }

// ProtocolMessage is the fixed wire envelope. The envelope
// carries its own signature, but inner payloads (Bid, Receipt) also carry
// their own signatures; consumers MUST verify payload signatures
// independently — the envelope signature alone does not authenticate the
// payload's declared executor/author.
type ProtocolMessage struct {
	Version   uint16
	Payload   Payload
	Sender    identity.DID
	Recipient *identity.DID
	Timestamp int64
	Signature []byte
}

// Topic returns the fixed gossip topic this message's payload is published on.
func (m ProtocolMessage) Topic() string { return topicFor[m.Payload.Kind()] }

// NewEnvelope builds and signs a ProtocolMessage. The envelope signature
// covers the encoded payload bytes plus sender/recipient/timestamp via the
// configured Codec, so callers pass the codec to keep signing and wire
// encoding consistent.
func NewEnvelope(codec Codec, signer identity.Signer, payload Payload, recipient *identity.DID) (ProtocolMessage, error) {
	msg := ProtocolMessage{
		Version:   1,
		Payload:   payload,
		Sender:    signer.DID(),
		Recipient: recipient,
		Timestamp: time.Now().Unix(),
	}
	signable, err := codec.EnvelopeSignableBytes(msg)
	if err != nil {
		return ProtocolMessage{}, err
	}
	sig, err := signer.Sign(signable)
	if err != nil {
		return ProtocolMessage{}, err
	}
	msg.Signature = sig
	return msg, nil
}
