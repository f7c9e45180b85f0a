package mesh

import (
	"context"
	"testing"
	"time"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/identity"
	"icn-mesh/internal/mana"
	"icn-mesh/internal/meshnet"
	"icn-mesh/internal/policy"
	"icn-mesh/internal/reputation"
	"icn-mesh/internal/types"
)

const testSubmitOp policy.Op = "mesh.job.submit"

type harness struct {
	manager     *Manager
	dagStore    dag.Store
	ledger      mana.Ledger
	rep         reputation.Store
	enforcer    *policy.Enforcer
	nodeNet     *meshnet.MemoryService
	executorNet *meshnet.MemoryService
	codec       meshnet.Codec
}

func newHarness(t *testing.T, creator identity.DID, cfg Config) *harness {
	t.Helper()
	nodeSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new node signer: %v", err)
	}

	hub := meshnet.NewHub()
	nodeNet := hub.Join("node")
	executorNet := hub.Join("executor")

	enforcer := policy.NewEnforcer()
	enforcer.Allow(testSubmitOp, creator)

	dagStore := dag.NewMemoryStore()
	ledger := mana.NewMemoryLedger()
	rep := reputation.NewMemoryStore()
	codec := meshnet.JSONCodec{}

	m := NewManager(cfg, nodeSigner, dagStore, ledger, rep, nodeNet, enforcer, codec)
	return &harness{manager: m, dagStore: dagStore, ledger: ledger, rep: rep, enforcer: enforcer, nodeNet: nodeNet, executorNet: executorNet, codec: codec}
}

func buildSignedJob(t *testing.T, creator identity.Signer, cost uint64, required types.ResourceProfile, minRep *uint64) types.Job {
	t.Helper()
	job := types.Job{
		Spec: types.JobSpec{
			Kind:              types.JobSpecEcho,
			Payload:           []byte("echo this"),
			RequiredResources: required,
			MinReputation:     minRep,
		},
		Creator:  creator.DID(),
		CostMana: cost,
	}
	job.ID = dag.Compute(dag.CodecRaw, job.ManifestBytes())
	sig, err := creator.Sign(job.SignableBytes())
	if err != nil {
		t.Fatalf("sign job: %v", err)
	}
	job.Signature = sig
	return job
}

func buildSignedBid(t *testing.T, executor identity.Signer, jobID dag.CID, price uint64, res types.ResourceProfile) types.Bid {
	t.Helper()
	bid := types.Bid{JobID: jobID, Executor: executor.DID(), PriceMana: price, Resources: res}
	sig, err := executor.Sign(bid.CanonicalBytes())
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	bid.Signature = sig
	return bid
}

func buildSignedReceipt(t *testing.T, executor identity.Signer, jobID, resultCID dag.CID, cpuMs uint64, success bool) types.ExecutionReceipt {
	t.Helper()
	r := types.ExecutionReceipt{JobID: jobID, Executor: executor.DID(), ResultCID: resultCID, CPUMs: cpuMs, Success: success}
	sig, err := executor.Sign(r.CanonicalBytes())
	if err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	r.Signature = sig
	return r
}

func waitForState(t *testing.T, m *Manager, jobID dag.CID, want State, timeout time.Duration) JobRecordView {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if v, ok := m.Lookup(jobID); ok && v.State == want {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %s within %s", jobID, want, timeout)
	return JobRecordView{}
}

func TestSubmitHappyPathCompletesJob(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}
	executorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new executor signer: %v", err)
	}

	cfg := DefaultConfig()
	cfg.BidWindow = 30 * time.Millisecond
	cfg.DefaultExecWindow = time.Second

	h := newHarness(t, creatorSigner.DID(), cfg)
	h.ledger.SetBalance(creatorSigner.DID(), 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.manager.Run(ctx)

	required := types.ResourceProfile{CPU: 1, Mem: 1, Storage: 1}
	job := buildSignedJob(t, creatorSigner, 10, required, nil)

	if _, err := h.manager.Submit(ctx, job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	bid := buildSignedBid(t, executorSigner, job.ID, 6, types.ResourceProfile{CPU: 2, Mem: 2, Storage: 2})
	bidMsg, err := meshnet.NewEnvelope(h.codec, executorSigner, meshnet.BidSubmissionPayload{Bid: bid}, nil)
	if err != nil {
		t.Fatalf("build bid envelope: %v", err)
	}
	if err := h.executorNet.BroadcastMessage(ctx, bidMsg); err != nil {
		t.Fatalf("broadcast bid: %v", err)
	}

	waitForState(t, h.manager, job.ID, StateAssigned, time.Second)

	resultBlock, err := dag.NewBlock(executorSigner, []byte("echo this"), nil, "")
	if err != nil {
		t.Fatalf("build result block: %v", err)
	}
	if err := h.dagStore.Put(resultBlock); err != nil {
		t.Fatalf("put result block: %v", err)
	}

	receipt := buildSignedReceipt(t, executorSigner, job.ID, resultBlock.CID, 50, true)
	receiptMsg, err := meshnet.NewEnvelope(h.codec, executorSigner, meshnet.ReceiptSubmissionPayload{Receipt: receipt}, nil)
	if err != nil {
		t.Fatalf("build receipt envelope: %v", err)
	}
	if err := h.executorNet.BroadcastMessage(ctx, receiptMsg); err != nil {
		t.Fatalf("broadcast receipt: %v", err)
	}

	waitForState(t, h.manager, job.ID, StateCompleted, time.Second)

	if score := h.rep.GetReputation(executorSigner.DID()); score == 0 {
		t.Fatalf("expected reputation credit for successful execution, got %d", score)
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 94 {
		// 100 - 10 spent at submit, +4 refunded (cost 10 - price 6) on completion.
		t.Fatalf("unexpected creator balance after refund: %d", bal)
	}
}

// buildAssignedRecord constructs a JobRecord already in StateAssigned with a
// single winning bid, for tests that exercise handleReceipt directly without
// going through the full submit/bid/assign network round trip.
func buildAssignedRecord(t *testing.T, h *harness, creator identity.Signer, executor identity.Signer, cost, price uint64, required types.ResourceProfile) (*JobRecord, types.Job) {
	t.Helper()
	job := buildSignedJob(t, creator, cost, required, nil)
	if err := h.ledger.Spend(creator.DID(), job.CostMana); err != nil {
		t.Fatalf("spend: %v", err)
	}
	record := newJobRecord(job, time.Now(), time.Minute)
	record.setState(StateAssigned)
	bid := buildSignedBid(t, executor, job.ID, price, required)
	record.putBid(bid)
	record.mu.Lock()
	assignment := types.JobAssignment{JobID: job.ID, Executor: executor.DID()}
	record.assignment = &assignment
	record.mu.Unlock()
	return record, job
}

func TestHandleReceiptFailingGivesNoPriceDifferentialRefund(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}
	executorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new executor signer: %v", err)
	}

	h := newHarness(t, creatorSigner.DID(), DefaultConfig())
	h.ledger.SetBalance(creatorSigner.DID(), 100)

	required := types.ResourceProfile{}
	record, job := buildAssignedRecord(t, h, creatorSigner, executorSigner, 10, 6, required)

	resultBlock, err := dag.NewBlock(executorSigner, []byte("echo this"), nil, "")
	if err != nil {
		t.Fatalf("build result block: %v", err)
	}
	if err := h.dagStore.Put(resultBlock); err != nil {
		t.Fatalf("put result block: %v", err)
	}

	receipt := buildSignedReceipt(t, executorSigner, job.ID, resultBlock.CID, 50, false)
	if !h.manager.handleReceipt(context.Background(), record, receipt) {
		t.Fatal("expected a terminal transition")
	}
	if record.getState() != StateFailed {
		t.Fatalf("expected Failed, got %s", record.getState())
	}
	// 100 - 10 spent at submission; a failing receipt must not also refund
	// the price differential (cost 10 - price 6) the way a successful one
	// does.
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 90 {
		t.Fatalf("expected no price-differential refund on failure, creator balance = %d, want 90", bal)
	}
	if score := h.rep.GetReputation(executorSigner.DID()); score != 0 {
		t.Fatalf("expected saturating reputation penalty to floor at 0, got %d", score)
	}
}

func TestHandleReceiptDuplicateIsIgnored(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}
	executorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new executor signer: %v", err)
	}

	h := newHarness(t, creatorSigner.DID(), DefaultConfig())
	h.ledger.SetBalance(creatorSigner.DID(), 100)

	required := types.ResourceProfile{}
	record, job := buildAssignedRecord(t, h, creatorSigner, executorSigner, 10, 6, required)

	resultBlock, err := dag.NewBlock(executorSigner, []byte("echo this"), nil, "")
	if err != nil {
		t.Fatalf("build result block: %v", err)
	}
	if err := h.dagStore.Put(resultBlock); err != nil {
		t.Fatalf("put result block: %v", err)
	}

	receipt := buildSignedReceipt(t, executorSigner, job.ID, resultBlock.CID, 50, true)
	if !h.manager.handleReceipt(context.Background(), record, receipt) {
		t.Fatal("expected the first receipt to reach a terminal state")
	}
	if record.getState() != StateCompleted {
		t.Fatalf("expected Completed, got %s", record.getState())
	}
	balAfterFirst := h.ledger.GetBalance(creatorSigner.DID())
	repAfterFirst := h.rep.GetReputation(executorSigner.DID())

	// The job has left Assigned, so the duplicate is dropped by
	// handleReceipt's own state check before it can reach the DAG or the
	// reputation idempotence guard; either way what matters is the
	// observable effect: state, balance and reputation are unchanged.
	if h.manager.handleReceipt(context.Background(), record, receipt) {
		t.Fatal("expected the duplicate receipt to be a no-op, not a terminal transition")
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != balAfterFirst {
		t.Fatalf("duplicate receipt changed creator balance: %d -> %d", balAfterFirst, bal)
	}
	if score := h.rep.GetReputation(executorSigner.DID()); score != repAfterFirst {
		t.Fatalf("duplicate receipt changed executor reputation: %d -> %d", repAfterFirst, score)
	}
}

func TestSubmitNoBiddersExpires(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}

	cfg := DefaultConfig()
	cfg.BidWindow = 20 * time.Millisecond

	h := newHarness(t, creatorSigner.DID(), cfg)
	h.ledger.SetBalance(creatorSigner.DID(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.manager.Run(ctx)

	job := buildSignedJob(t, creatorSigner, 10, types.ResourceProfile{}, nil)
	if _, err := h.manager.Submit(ctx, job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForState(t, h.manager, job.ID, StateExpired, time.Second)

	// Zero bids expires the job with a full refund: net mana change is 0.
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 50 {
		t.Fatalf("expected full refund on expiry, creator balance = %d, want 50", bal)
	}
}

func TestShutdownCancelsBiddingJobsWithRefund(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}

	cfg := DefaultConfig()
	cfg.BidWindow = time.Minute // long enough that the job is still Bidding at shutdown

	h := newHarness(t, creatorSigner.DID(), cfg)
	h.ledger.SetBalance(creatorSigner.DID(), 50)

	job := buildSignedJob(t, creatorSigner, 10, types.ResourceProfile{}, nil)
	if _, err := h.manager.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 40 {
		t.Fatalf("expected 10 mana spent at submit, balance = %d", bal)
	}

	h.manager.Shutdown()

	view, ok := h.manager.Lookup(job.ID)
	if !ok {
		t.Fatal("expected job to remain queryable after shutdown")
	}
	if view.State != StateCancelled {
		t.Fatalf("expected Bidding job to drain to Cancelled, got %s", view.State)
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 50 {
		t.Fatalf("expected full refund on shutdown drain, balance = %d, want 50", bal)
	}
}

func TestSubmitRejectsUnauthorizedCreator(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}
	other, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new other signer: %v", err)
	}

	cfg := DefaultConfig()
	h := newHarness(t, other.DID(), cfg) // allow-list only covers `other`, not the job's creator
	h.ledger.SetBalance(creatorSigner.DID(), 50)

	job := buildSignedJob(t, creatorSigner, 10, types.ResourceProfile{}, nil)

	_, err = h.manager.Submit(context.Background(), job)
	if err == nil {
		t.Fatal("expected policy denial")
	}
	jerr, ok := err.(*JobError)
	if !ok || jerr.Kind != ErrPolicyDenied {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 50 {
		t.Fatalf("expected no mana spent on policy denial, got %d", bal)
	}
}

func TestSubmitInsufficientManaLeavesBalanceUntouched(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}
	cfg := DefaultConfig()
	h := newHarness(t, creatorSigner.DID(), cfg)
	h.ledger.SetBalance(creatorSigner.DID(), 1) // insufficient for cost 10

	job := buildSignedJob(t, creatorSigner, 10, types.ResourceProfile{}, nil)
	_, err = h.manager.Submit(context.Background(), job)
	if err == nil {
		t.Fatal("expected insufficient mana error")
	}
	jerr, ok := err.(*JobError)
	if !ok || jerr.Kind != ErrInsufficientMana {
		t.Fatalf("expected ErrInsufficientMana, got %v", err)
	}
	if bal := h.ledger.GetBalance(creatorSigner.DID()); bal != 1 {
		t.Fatalf("expected balance untouched on insufficient mana, got %d", bal)
	}
}

func TestMetricsCountExpiredJob(t *testing.T) {
	creatorSigner, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new creator signer: %v", err)
	}

	cfg := DefaultConfig()
	cfg.BidWindow = 20 * time.Millisecond

	h := newHarness(t, creatorSigner.DID(), cfg)
	h.ledger.SetBalance(creatorSigner.DID(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.manager.Run(ctx)

	job := buildSignedJob(t, creatorSigner, 10, types.ResourceProfile{}, nil)
	if _, err := h.manager.Submit(ctx, job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForState(t, h.manager, job.ID, StateExpired, time.Second)

	metrics, err := h.manager.Metrics().Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var found bool
	for _, mf := range metrics {
		if mf.GetName() != "icn_mesh_jobs_terminal_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "state" && label.GetValue() == string(StateExpired) && metric.GetCounter().GetValue() >= 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected icn_mesh_jobs_terminal_total{state=expired} to be incremented")
	}
}
