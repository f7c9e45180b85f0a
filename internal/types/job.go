// Package types holds the shared mesh job lifecycle entities:
// Job, JobSpec, Bid, JobAssignment and ExecutionReceipt, plus their
// canonical signable byte encodings. It is the lowest-level leaf shared
// by the reputation store, the mesh network service and the job manager,
// so none of them needs to import the others just to describe a message.
package types

import (
	"encoding/binary"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/identity"
)

// JobSpecKind discriminates the JobSpec tagged union.
type JobSpecKind string

const (
	JobSpecEcho    JobSpecKind = "echo"
	JobSpecWasm    JobSpecKind = "wasm"
	JobSpecGeneric JobSpecKind = "generic"
)

// ResourceProfile describes compute resources offered or required.
type ResourceProfile struct {
	CPU     uint32 // millicores or abstract unit
	Mem     uint64 // bytes
	Storage uint64 // bytes
}

// Satisfies reports whether r meets or exceeds the required profile.
func (r ResourceProfile) Satisfies(required ResourceProfile) bool {
	return r.CPU >= required.CPU && r.Mem >= required.Mem && r.Storage >= required.Storage
}

// JobSpec is the tagged union of job kinds. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type JobSpec struct {
	Kind JobSpecKind

	// Echo
	Payload []byte

	// Wasm — an opaque executor plugin boundary; the contract language and
	// WASM runtime are never interpreted by this module.
	ModuleCID dag.CID
	Entry     string

	// Generic
	GenericKind        string
	Inputs             []dag.CID
	Outputs            []string
	RequiredResources  ResourceProfile
	MinReputation      *uint64
	AllowedFederations []string
}

// Job is ActualMeshJob.
type Job struct {
	ID          dag.CID
	ManifestCID dag.CID
	Spec        JobSpec
	Creator     identity.DID
	CostMana    uint64
	MaxWaitMS   *uint64
	Signature   []byte
}

// ManifestBytes returns the canonical bytes the job's ID is derived from:
// the manifest contents, so two submissions of the same job collide on
// the same CID.
func (j *Job) ManifestBytes() []byte {
	buf := make([]byte, 0, 64+len(j.Spec.Payload))
	buf = append(buf, byte(len(j.Spec.Kind)))
	buf = append(buf, j.Spec.Kind...)
	buf = append(buf, j.Spec.Payload...)
	buf = append(buf, j.Spec.ModuleCID.Digest...)
	buf = append(buf, j.Spec.Entry...)
	buf = append(buf, j.Spec.GenericKind...)
	for _, in := range j.Spec.Inputs {
		buf = append(buf, in.Digest...)
	}
	buf = append(buf, j.Creator...)
	var cost [8]byte
	binary.LittleEndian.PutUint64(cost[:], j.CostMana)
	buf = append(buf, cost[:]...)
	return buf
}

// SignableBytes returns the bytes a job's creator signature covers: the
// manifest CID plus cost and creator, so a job cannot be resubmitted under a
// different cost without invalidating the signature.
func (j *Job) SignableBytes() []byte {
	buf := append([]byte(nil), j.ManifestCID.Digest...)
	buf = append(buf, j.Creator...)
	var cost [8]byte
	binary.LittleEndian.PutUint64(cost[:], j.CostMana)
	return append(buf, cost[:]...)
}

// Bid is an executor's offer to run a job.
type Bid struct {
	JobID     dag.CID
	Executor  identity.DID
	PriceMana uint64
	Resources ResourceProfile
	Signature []byte
}

// CanonicalBytes is the bid signing payload:
// job_id || executor_did || price_mana(LE u64) || resources(cpu LE u32, mem LE u64, storage LE u64).
func (b *Bid) CanonicalBytes() []byte {
	buf := append([]byte(nil), b.JobID.Digest...)
	buf = append(buf, b.Executor...)
	var price [8]byte
	binary.LittleEndian.PutUint64(price[:], b.PriceMana)
	buf = append(buf, price[:]...)
	var cpu [4]byte
	binary.LittleEndian.PutUint32(cpu[:], b.Resources.CPU)
	buf = append(buf, cpu[:]...)
	var mem [8]byte
	binary.LittleEndian.PutUint64(mem[:], b.Resources.Mem)
	buf = append(buf, mem[:]...)
	var storage [8]byte
	binary.LittleEndian.PutUint64(storage[:], b.Resources.Storage)
	buf = append(buf, storage[:]...)
	return buf
}

// JobAssignment records the executor selected for a job. At most
// one accepted assignment per job_id — enforced by the job manager, not by
// this type.
type JobAssignment struct {
	JobID    dag.CID
	Executor identity.DID
}

// ExecutionReceipt is a signed, verifiable statement that a job executed
// with a given result.
type ExecutionReceipt struct {
	JobID     dag.CID
	Executor  identity.DID
	ResultCID dag.CID
	CPUMs     uint64
	Success   bool
	Signature []byte
}

// CanonicalBytes is the receipt signing payload:
// job_id || executor_did || result_cid || cpu_ms(LE u64) || success(u8).
func (r *ExecutionReceipt) CanonicalBytes() []byte {
	buf := append([]byte(nil), r.JobID.Digest...)
	buf = append(buf, r.Executor...)
	buf = append(buf, r.ResultCID.Digest...)
	var cpu [8]byte
	binary.LittleEndian.PutUint64(cpu[:], r.CPUMs)
	buf = append(buf, cpu[:]...)
	if r.Success {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
