// Package dlist implements the doubly linked list primitives spec.md
// section 9 calls for: O(1) insertion/removal so an Operation or
// Connection can move between queues (inflight/complete, preinit/peers)
// without a scan. The shape follows the standard library's container/list
// (root sentinel, circular links) generalized to carry an arbitrary
// payload so both pkg/dctx's Operation and pkg/dctx/transport's Connection
// can share one implementation.
package dlist

// Elem is one link in a List. Callers keep the *Elem returned by PushBack
// alongside their own struct (an Operation or Connection keeps a reference
// to its own Elem) so that removing it later is O(1) and needs no scan --
// this is the "intrusive" part of the design, short of embedding the link
// fields directly, which Go cannot express without unsafe pointer
// arithmetic.
type Elem struct {
	next, prev *Elem
	list       *List
	Value      interface{}
}

// Next returns the following element, or nil at the end of the list.
func (e *Elem) Next() *Elem {
	if n := e.next; e.list != nil && n != &e.list.root {
		return n
	}
	return nil
}

// Prev returns the preceding element, or nil at the start of the list.
func (e *Elem) Prev() *Elem {
	if p := e.prev; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// List is a circular doubly linked list with a sentinel root element.
type List struct {
	root Elem
	len  int
}

// New returns an initialized, empty list.
func New() *List {
	l := &List{}
	return l.init()
}

func (l *List) init() *List {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.list = l
	l.len = 0
	return l
}

func (l *List) lazyInit() {
	if l.root.next == nil {
		l.init()
	}
}

// Len returns the number of elements currently in the list.
func (l *List) Len() int { return l.len }

// Front returns the first element, or nil if the list is empty.
func (l *List) Front() *Elem {
	l.lazyInit()
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// PushBack appends v to the end of the list and returns its Elem, which the
// caller must retain in order to Remove it later in O(1).
func (l *List) PushBack(v interface{}) *Elem {
	l.lazyInit()
	e := &Elem{Value: v, list: l}
	at := l.root.prev
	e.prev = at
	e.next = at.next
	e.prev.next = e
	e.next.prev = e
	l.len++
	return e
}

// Remove unlinks e from l and returns its value. Removing an element that
// is not currently in l is a no-op that returns nil.
func (l *List) Remove(e *Elem) interface{} {
	if e.list != l {
		return nil
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--
	return e.Value
}

// Each calls fn for every element in the list, front to back. fn must not
// mutate the list; use a manual Front()/Next() walk with Remove if that is
// needed (as matching does when it moves an operation between lists).
func (l *List) Each(fn func(*Elem)) {
	for e := l.Front(); e != nil; e = e.Next() {
		fn(e)
	}
}
