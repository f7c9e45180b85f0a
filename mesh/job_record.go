package mesh

import (
	"sync"
	"time"

	"icn-mesh/internal/identity"
	"icn-mesh/internal/types"
)

// State is a mesh job's position in the lifecycle state machine.
type State string

const (
	StateSubmitted State = "submitted"
	StateBidding   State = "bidding"
	StateAssigned  State = "assigned"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is one of the four terminal states.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired, StateCancelled:
		return true
	default:
		return false
	}
}

// JobRecord is the single-writer state for one mesh job. Only the job's
// owning goroutine (Manager.runJob) ever mutates it; every other caller
// reads a JobRecordView snapshot taken under the record's own mutex: one
// job table sharded by job_id, one owner goroutine per job.
type JobRecord struct {
	mu sync.Mutex

	job   types.Job
	state State

	createdAt    time.Time
	bidDeadline  time.Time
	execDeadline time.Time

	bids       map[identity.DID]types.Bid // last-write-wins per executor
	assignment *types.JobAssignment
	retried    bool

	failureReason string
}

// JobRecordView is a point-in-time, data-only copy of a JobRecord, safe to
// read and pass around without holding any lock.
type JobRecordView struct {
	Job           types.Job
	State         State
	CreatedAt     time.Time
	BidDeadline   time.Time
	ExecDeadline  time.Time
	Bids          map[identity.DID]types.Bid
	Assignment    *types.JobAssignment
	FailureReason string
}

func newJobRecord(job types.Job, now time.Time, bidWindow time.Duration) *JobRecord {
	return &JobRecord{
		job:         job,
		state:       StateSubmitted,
		createdAt:   now,
		bidDeadline: now.Add(bidWindow),
		bids:        make(map[identity.DID]types.Bid),
	}
}

func (r *JobRecord) view() JobRecordView {
	r.mu.Lock()
	defer r.mu.Unlock()
	bids := make(map[identity.DID]types.Bid, len(r.bids))
	for k, v := range r.bids {
		bids[k] = v
	}
	return JobRecordView{
		Job:           r.job,
		State:         r.state,
		CreatedAt:     r.createdAt,
		BidDeadline:   r.bidDeadline,
		ExecDeadline:  r.execDeadline,
		Bids:          bids,
		Assignment:    r.assignment,
		FailureReason: r.failureReason,
	}
}

func (r *JobRecord) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *JobRecord) getState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *JobRecord) fail(reason string) {
	r.mu.Lock()
	r.state = StateFailed
	r.failureReason = reason
	r.mu.Unlock()
}

// putBid records or replaces executor's bid, last-write-wins.
func (r *JobRecord) putBid(bid types.Bid) {
	r.mu.Lock()
	r.bids[bid.Executor] = bid
	r.mu.Unlock()
}

func (r *JobRecord) bidList() []types.Bid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Bid, 0, len(r.bids))
	for _, b := range r.bids {
		out = append(out, b)
	}
	return out
}
