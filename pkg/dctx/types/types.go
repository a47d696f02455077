// Package types holds the small, dependency-free vocabulary shared by the
// transport and engine layers: ranks, lifecycle status, collective kinds
// and the write-completion descriptor used to thread ownership information
// through an asynchronous socket write.
package types

import "fmt"

// Rank identifies a process within a group, 0 <= Rank < Size.
type Rank int32

// Role says whether a Context is the chief (rank 0) or a worker.
type Role int

const (
	RoleWorker Role = iota
	RoleChief
)

func (r Role) String() string {
	if r == RoleChief {
		return "chief"
	}
	return "worker"
}

// Status is a Context's lifecycle state, advanced only by the I/O thread.
type Status int

const (
	StatusPrestart Status = iota
	StatusRunning
	StatusStopping
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPrestart:
		return "PRESTART"
	case StatusRunning:
		return "RUNNING"
	case StatusStopping:
		return "STOPPING"
	case StatusDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Kind is a collective operation kind. It is distinct from wire.Tag: every
// Kind has a wire representation, but the wire format also carries INIT and
// KEEPALIVE tags that never become an Operation.
type Kind int

const (
	KindGather Kind = iota
	KindBroadcast
	KindAllgather
)

func (k Kind) String() string {
	switch k {
	case KindGather:
		return "gather"
	case KindBroadcast:
		return "broadcast"
	case KindAllgather:
		return "allgather"
	default:
		return "unknown"
	}
}

// OwnershipMode is how a caller hands a payload buffer to a submit call.
type OwnershipMode int

const (
	// OwnershipMove: the engine takes the slice as-is; the caller must not
	// touch it again.
	OwnershipMove OwnershipMode = iota
	// OwnershipCopy: the engine copies the payload immediately.
	OwnershipCopy
	// OwnershipBorrow: the engine stores the caller's slice directly
	// ("nofree"); the caller must not mutate or release it until the
	// returned operation's Await() has returned.
	OwnershipBorrow
)

// DescKind distinguishes the two kinds of write-completion descriptor from
// spec.md section 4.2/9: a FREE descriptor just wants its buffer released
// on completion, an OP descriptor wants the engine notified that a send
// finished for a specific operation.
type DescKind int

const (
	DescFree DescKind = iota
	DescOp
)

// OpID is a stable, non-pointer identifier for an in-flight operation, used
// so the transport layer never needs to import or alias the engine's
// Operation type (spec.md section 9: "a stable identifier... rather than a
// weak reference").
type OpID uint64

// WriteDescriptor travels with an asynchronous write and is handed back,
// unchanged, to the caller-supplied completion callback once the write
// finishes or fails.
type WriteDescriptor struct {
	Kind DescKind
	// Buffer is the payload that was written; present for both kinds so a
	// FREE descriptor can release it and diagnostics can size OP writes.
	Buffer []byte
	// OpID identifies the operation to notify when Kind == DescOp.
	Op OpID
	// Seq distinguishes multiple writes sharing one descriptor (broadcast
	// and allgather on the chief reuse a single descriptor across many
	// peer writes and count completions).
	Seq int
}

func (d WriteDescriptor) String() string {
	if d.Kind == DescFree {
		return fmt.Sprintf("FREE(%dB)", len(d.Buffer))
	}
	return fmt.Sprintf("OP(%d,#%d,%dB)", d.Op, d.Seq, len(d.Buffer))
}

// Configuration is the fixed set of values required to Open a Context:
// one half is this process's identity within the group, the other half
// is how to find the chief.
type Configuration struct {
	Rank      Rank
	Size      int
	LocalRank int
	LocalSize int
	CrossRank int
	CrossSize int
	ChiefHost string
	ChiefSvc  string
}

// Role derives this configuration's role from Rank.
func (c Configuration) Role() Role {
	if c.Rank == 0 {
		return RoleChief
	}
	return RoleWorker
}

// Validate checks the invariants spec.md section 3/6 require before Open
// may proceed.
func (c Configuration) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("dctx: size must be positive, got %d", c.Size)
	}
	if c.Rank < 0 || int(c.Rank) >= c.Size {
		return fmt.Errorf("dctx: rank %d out of range [0,%d)", c.Rank, c.Size)
	}
	if c.ChiefHost == "" || c.ChiefSvc == "" {
		return fmt.Errorf("dctx: chief_host and chief_svc are required")
	}
	return nil
}

// MaxSeriesLen is the wire and API limit on series name length (spec.md
// section 3/8). The wire format's slen field is a single byte, so 255 is
// the largest length it can represent; callers asking for 256 are
// rejected at the API boundary rather than silently wrapping to 0 on
// the wire.
const MaxSeriesLen = 255
