package dctx

// Result is the owned, takeable list of byte buffers an Operation's
// Await returns (spec.md section 4.7). Each slot may be taken at most
// once; a taken slot reads back as nil from both Peek and a second Take.
type Result struct {
	ok    bool
	bufs  [][]byte
	taken []bool
}

// notOkResult and okEmptyResult are the two sentinel singletons spec.md
// section 9 allows implementations to keep; Free is a no-op on both so
// callers may treat every Result uniformly without special-casing
// rejection.
var (
	notOkResult  = &Result{}
	okEmptyResult = &Result{ok: true}
)

func newResult(ok bool, bufs [][]byte) *Result {
	return &Result{ok: ok, bufs: bufs, taken: make([]bool, len(bufs))}
}

// Ok reports whether the operation this Result came from completed
// successfully. A not-ok Result carries no buffers.
func (r *Result) Ok() bool {
	if r == nil {
		return false
	}
	return r.ok
}

// Count is the number of buffer slots in this Result.
func (r *Result) Count() int {
	if r == nil {
		return 0
	}
	return len(r.bufs)
}

// Len returns the length of slot i, or 0 if it is out of range or has
// already been taken.
func (r *Result) Len(i int) int {
	if r == nil || i < 0 || i >= len(r.bufs) {
		return 0
	}
	return len(r.bufs[i])
}

// Peek borrows slot i without transferring ownership. It returns nil if
// the slot has already been taken or is out of range.
func (r *Result) Peek(i int) []byte {
	if r == nil || i < 0 || i >= len(r.bufs) {
		return nil
	}
	return r.bufs[i]
}

// Take transfers ownership of slot i to the caller. A slot may be taken
// at most once; the second call (and any out-of-range call) returns nil.
func (r *Result) Take(i int) []byte {
	if r == nil || i < 0 || i >= len(r.bufs) || r.taken[i] {
		return nil
	}
	r.taken[i] = true
	b := r.bufs[i]
	r.bufs[i] = nil
	return b
}

// Free releases any buffers not already taken. Safe to call repeatedly
// and on either sentinel.
func (r *Result) Free() {
	if r == nil {
		return
	}
	for i := range r.bufs {
		r.bufs[i] = nil
		r.taken[i] = true
	}
}
