// Package mesh implements the ICN mesh job manager, the scheduler core
// that composes the node's signer, DAG, mana, reputation, network and
// policy capabilities and drives each job through its lifecycle state
// machine.
package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/identity"
	"icn-mesh/internal/mana"
	"icn-mesh/internal/meshnet"
	"icn-mesh/internal/policy"
	"icn-mesh/internal/reputation"
	"icn-mesh/internal/types"
)

// Config holds the manager's tunable parameters; all have documented
// defaults.
type Config struct {
	BidWindow         time.Duration
	DefaultExecWindow time.Duration
	Weights           ScoreWeights
	SubmitOp          policy.Op
}

// DefaultConfig returns the manager's default tuning.
func DefaultConfig() Config {
	return Config{
		BidWindow:         10 * time.Second,
		DefaultExecWindow: 30 * time.Second,
		Weights:           DefaultScoreWeights(),
		SubmitOp:          policy.Op("mesh.job.submit"),
	}
}

// Manager is the mesh job scheduler: it composes the signer, DAG store,
// mana ledger, reputation store, network service and policy enforcer
// through explicit fields rather than a singleton, and owns one goroutine
// per active job.
type Manager struct {
	cfg Config

	signer   identity.Signer
	dagStore dag.Store
	ledger   mana.Ledger
	rep      reputation.Store
	network  meshnet.Service
	enforcer *policy.Enforcer
	codec    meshnet.Codec

	jobs sync.Map // job id (dag.CID.String()) -> *jobHandle

	metrics *Metrics
	log     *log.Entry
}

type jobHandle struct {
	record *JobRecord
	inbox  chan any
	cancel context.CancelFunc
	done   chan struct{}
}

type bidMsg struct{ bid types.Bid }
type receiptMsg struct{ receipt types.ExecutionReceipt }
type cancelMsg struct{}

// NewManager constructs a job manager over the given capabilities.
func NewManager(cfg Config, signer identity.Signer, dagStore dag.Store, ledger mana.Ledger, rep reputation.Store, network meshnet.Service, enforcer *policy.Enforcer, codec meshnet.Codec) *Manager {
	return &Manager{
		cfg:      cfg,
		signer:   signer,
		dagStore: dagStore,
		ledger:   ledger,
		rep:      rep,
		network:  network,
		enforcer: enforcer,
		codec:    codec,
		metrics:  NewMetrics(),
		// A per-instance run id keeps log lines from concurrent managers
		// (tests, multi-node processes) attributable.
		log: log.WithFields(log.Fields{"component": "mesh", "run": uuid.NewString()}),
	}
}

// Metrics returns the manager's prometheus metric set: bid and receipt
// verification failures are counted here rather than surfaced to any
// caller.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Run subscribes to the mesh network and dispatches inbound bid/receipt
// messages to their owning job's goroutine until ctx is cancelled: one
// shared subscription fanning into per-job channels.
func (m *Manager) Run(ctx context.Context) error {
	ch, unsubscribe, err := m.network.Subscribe()
	if err != nil {
		return fmt.Errorf("mesh: subscribe: %w", err)
	}
	defer unsubscribe()
	defer m.Shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m.dispatch(msg)
		}
	}
}

// Shutdown stops every job's owning goroutine and waits for it to drain:
// jobs still in Bidding transition to Cancelled with a full refund, jobs in
// other states simply stop where they are. Run invokes it when the dispatch
// loop exits, so an explicit call is only needed when Run was never started.
func (m *Manager) Shutdown() {
	m.jobs.Range(func(_, v any) bool {
		h := v.(*jobHandle)
		h.cancel()
		<-h.done
		return true
	})
}

func (m *Manager) dispatch(msg meshnet.ProtocolMessage) {
	switch p := msg.Payload.(type) {
	case meshnet.BidSubmissionPayload:
		m.routeTo(p.Bid.JobID, bidMsg{bid: p.Bid})
	case meshnet.ReceiptSubmissionPayload:
		m.routeTo(p.Receipt.JobID, receiptMsg{receipt: p.Receipt})
	default:
		// Job announcements, assignments, and governance traffic are not
		// consumed by the local scheduler loop; other subsystems (or a
		// remote node's own Manager, for announcements) own them.
	}
}

func (m *Manager) routeTo(jobID dag.CID, msg any) {
	v, ok := m.jobs.Load(jobID.String())
	if !ok {
		return // not a job this node is managing
	}
	h := v.(*jobHandle)
	select {
	case h.inbox <- msg:
	default:
		m.log.Warnf("job %s inbox full, dropping message", jobID)
	}
}

// Submit validates the job, enforces policy, spends mana, anchors the
// manifest, and starts the job's owning goroutine.
func (m *Manager) Submit(ctx context.Context, job types.Job) (JobRecordView, error) {
	manifestCID := dag.Compute(dag.CodecRaw, job.ManifestBytes())
	if manifestCID.String() != job.ID.String() {
		return JobRecordView{}, newJobError(ErrIntegrity, "job.id does not match CID(manifest)")
	}

	creatorPub, err := identity.PublicKeyFromDID(job.Creator)
	if err != nil {
		return JobRecordView{}, newJobError(ErrSignature, "creator DID not verifiable: "+err.Error())
	}
	if !identity.Verify(creatorPub, job.SignableBytes(), job.Signature) {
		return JobRecordView{}, newJobError(ErrSignature, "job signature verification failed")
	}

	scope := ""
	if len(job.Spec.AllowedFederations) > 0 {
		scope = job.Spec.AllowedFederations[0]
	}
	decision := m.enforcer.Check(policy.Request{Actor: job.Creator, Op: m.cfg.SubmitOp, Scope: scope})
	if !decision.Allowed {
		return JobRecordView{}, newJobError(ErrPolicyDenied, decision.Reason)
	}

	if err := m.ledger.Spend(job.Creator, job.CostMana); err != nil {
		return JobRecordView{}, newJobError(ErrInsufficientMana, err.Error())
	}

	block, err := dag.NewBlock(m.signer, job.ManifestBytes(), nil, scope)
	if err != nil {
		m.ledger.Credit(job.Creator, job.CostMana) // compensating refund
		return JobRecordView{}, newJobError(ErrInternal, "build manifest block: "+err.Error())
	}
	if err := m.dagStore.Put(block); err != nil {
		m.ledger.Credit(job.Creator, job.CostMana) // compensating refund
		return JobRecordView{}, newJobError(ErrStorageUnavailable, "anchor manifest: "+err.Error())
	}
	job.ManifestCID = block.CID

	record := newJobRecord(job, time.Now(), m.cfg.BidWindow)
	record.setState(StateBidding)

	jobCtx, cancel := context.WithCancel(context.Background())
	handle := &jobHandle{
		record: record,
		inbox:  make(chan any, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs.Store(job.ID.String(), handle)

	announcement, err := meshnet.NewEnvelope(m.codec, m.signer, meshnet.JobAnnouncementPayload{Job: job}, nil)
	if err != nil {
		m.log.Warnf("build announcement for job %s: %v", job.ID, err)
	} else if err := m.network.BroadcastMessage(ctx, announcement); err != nil {
		m.log.Warnf("broadcast announcement for job %s: %v", job.ID, err)
		m.metrics.recordBroadcastRetry()
	}

	go m.runJob(jobCtx, handle)

	return record.view(), nil
}

// Cancel requests cancellation of a job still in Bidding. Jobs already
// Assigned or terminal ignore cancel.
func (m *Manager) Cancel(jobID dag.CID) error {
	v, ok := m.jobs.Load(jobID.String())
	if !ok {
		return newJobError(ErrNotFound, "no such managed job")
	}
	h := v.(*jobHandle)
	select {
	case h.inbox <- cancelMsg{}:
		return nil
	default:
		return newJobError(ErrConflict, "job inbox full")
	}
}

// Lookup returns a snapshot of a managed job's current state.
func (m *Manager) Lookup(jobID dag.CID) (JobRecordView, bool) {
	v, ok := m.jobs.Load(jobID.String())
	if !ok {
		return JobRecordView{}, false
	}
	return v.(*jobHandle).record.view(), true
}

// runJob is the single owner goroutine for one JobRecord: every
// state transition for this job happens here, on this goroutine, in
// message-arrival order.
func (m *Manager) runJob(ctx context.Context, h *jobHandle) {
	// The job's JobRecordView remains queryable via Lookup after the
	// goroutine exits (its table entry is intentionally not deleted here),
	// so callers can observe a job's terminal state and FailureReason.
	defer close(h.done)

	r := h.record
	bidTimer := time.NewTimer(time.Until(r.bidDeadline))
	defer bidTimer.Stop()

	var execTimer *time.Timer
	stopExecTimer := func() {
		if execTimer != nil {
			execTimer.Stop()
		}
	}
	defer stopExecTimer()

	for {
		select {
		case <-ctx.Done():
			// Shutdown drain: a job still collecting bids is cancelled with a
			// full refund rather than left dangling.
			if r.getState() == StateBidding {
				m.cancelJob(r)
			}
			return

		case msg := <-h.inbox:
			switch v := msg.(type) {
			case bidMsg:
				m.handleBid(r, v.bid)
			case receiptMsg:
				if m.handleReceipt(ctx, r, v.receipt) {
					return
				}
			case cancelMsg:
				if r.getState() == StateBidding {
					m.cancelJob(r)
					return
				}
			}

		case <-bidTimer.C:
			if r.getState() != StateBidding {
				continue
			}
			if m.assignExecutor(ctx, r) {
				execTimer = time.NewTimer(time.Until(r.execDeadline))
			} else {
				m.expireJob(r)
				return
			}

		case <-execTimerC(execTimer):
			if r.getState() != StateAssigned {
				continue
			}
			if !r.retried {
				r.retried = true
				r.mu.Lock()
				if r.assignment != nil {
					r.removeBidLocked(r.assignment.Executor)
				}
				r.mu.Unlock()
				r.setState(StateBidding)
				if m.assignExecutor(ctx, r) {
					execTimer = time.NewTimer(time.Until(r.execDeadline))
					continue
				}
				m.expireJob(r)
				return
			}
			m.rep.RecordReceipt(&types.ExecutionReceipt{
				JobID:    r.job.ID,
				Executor: r.assignment.Executor,
				Success:  false,
			})
			r.fail("executor ack timeout, retry exhausted")
			m.metrics.recordTerminal(StateFailed)
			return
		}
	}
}

// execTimerC returns t.C, or a nil channel (blocks forever) if t is nil,
// so the select above can wait on an exec timer that may not exist yet.
func execTimerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// removeBidLocked deletes executor's bid; caller must hold r.mu.
func (r *JobRecord) removeBidLocked(executor identity.DID) {
	delete(r.bids, executor)
}

func (m *Manager) cancelJob(r *JobRecord) {
	r.setState(StateCancelled)
	m.ledger.Credit(r.job.Creator, r.job.CostMana)
	m.metrics.recordTerminal(StateCancelled)
}

// expireJob terminates a job whose bid window closed with no admissible
// bids. The mana spent at submission is refunded in full.
func (m *Manager) expireJob(r *JobRecord) {
	r.setState(StateExpired)
	m.ledger.Credit(r.job.Creator, r.job.CostMana)
	m.metrics.recordTerminal(StateExpired)
}

// handleBid applies admissibility checks before accepting a bid.
func (m *Manager) handleBid(r *JobRecord, bid types.Bid) {
	if r.getState() != StateBidding {
		return
	}
	execPub, err := identity.PublicKeyFromDID(bid.Executor)
	if err != nil || !identity.Verify(execPub, bid.CanonicalBytes(), bid.Signature) {
		m.metrics.recordBidDropped()
		return // drop silently
	}
	if r.job.Spec.MinReputation != nil && m.rep.GetReputation(bid.Executor) < *r.job.Spec.MinReputation {
		m.metrics.recordBidDropped()
		return
	}
	if !bid.Resources.Satisfies(r.job.Spec.RequiredResources) {
		m.metrics.recordBidDropped()
		return
	}
	if bid.PriceMana > r.job.CostMana {
		m.metrics.recordBidDropped()
		return
	}
	r.putBid(bid) // last-write-wins per executor
}

// assignExecutor selects the winning bid, broadcasts the assignment, and
// transitions the job to Assigned.
func (m *Manager) assignExecutor(ctx context.Context, r *JobRecord) bool {
	bids := r.bidList()
	winner, ok := selectExecutor(bids, r.job.Spec.RequiredResources, m.rep, m.cfg.Weights)
	if !ok {
		return false
	}

	assignment := types.JobAssignment{JobID: r.job.ID, Executor: winner.Executor}
	r.mu.Lock()
	r.assignment = &assignment
	r.state = StateAssigned
	execWindow := m.cfg.DefaultExecWindow
	if r.job.MaxWaitMS != nil {
		execWindow = time.Duration(*r.job.MaxWaitMS) * time.Millisecond
	}
	r.execDeadline = time.Now().Add(execWindow)
	r.mu.Unlock()

	msg, err := meshnet.NewEnvelope(m.codec, m.signer, meshnet.JobAssignmentPayload{Assignment: assignment}, &winner.Executor)
	if err != nil {
		m.log.Warnf("build assignment envelope for job %s: %v", r.job.ID, err)
		return true
	}
	if err := m.network.BroadcastMessage(ctx, msg); err != nil {
		m.log.Warnf("broadcast assignment for job %s: %v", r.job.ID, err)
		m.metrics.recordBroadcastRetry()
	}
	return true
}

// handleReceipt validates and applies an incoming execution receipt. It
// returns true if the job reached a terminal state and its goroutine
// should exit.
func (m *Manager) handleReceipt(ctx context.Context, r *JobRecord, receipt types.ExecutionReceipt) bool {
	if r.getState() != StateAssigned {
		return false
	}
	r.mu.Lock()
	assignment := r.assignment
	r.mu.Unlock()
	if assignment == nil || assignment.Executor != receipt.Executor {
		m.metrics.recordReceiptDropped()
		return false // drop: not assigned to this executor
	}

	execPub, err := identity.PublicKeyFromDID(receipt.Executor)
	if err != nil || !identity.Verify(execPub, receipt.CanonicalBytes(), receipt.Signature) {
		m.metrics.recordReceiptDropped()
		return false // drop silently
	}

	if m.rep.HasRecorded(r.job.ID.String()) {
		return false // idempotent: already anchored, no double reputation update
	}

	if !m.dagStore.Contains(receipt.ResultCID) {
		// A production node would send_message to the executor requesting the
		// result and wait up to a bounded retry window; this node only accepts
		// receipts whose result is already resolvable.
		m.metrics.recordReceiptDropped()
		return false
	}

	receiptBlock, err := dag.NewBlock(m.signer, receipt.CanonicalBytes(), []dag.DagLink{{CID: receipt.ResultCID}}, "")
	if err != nil {
		r.fail("build receipt block: " + err.Error())
		m.ledger.Credit(r.job.Creator, r.job.CostMana)
		m.metrics.recordTerminal(StateFailed)
		return true
	}
	if err := m.dagStore.Put(receiptBlock); err != nil {
		r.fail("anchor receipt: " + err.Error())
		m.ledger.Credit(r.job.Creator, r.job.CostMana)
		m.metrics.recordTerminal(StateFailed)
		return true
	}

	m.rep.RecordReceipt(&receipt)

	if receipt.Success {
		bids := r.bidList()
		for _, b := range bids {
			if b.Executor == receipt.Executor && b.PriceMana < r.job.CostMana {
				m.ledger.Credit(r.job.Creator, r.job.CostMana-b.PriceMana)
				break
			}
		}
		r.setState(StateCompleted)
		m.metrics.recordTerminal(StateCompleted)
	} else {
		r.setState(StateFailed)
		m.metrics.recordTerminal(StateFailed)
	}
	return true
}
