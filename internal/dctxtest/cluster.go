// Package dctxtest is a small in-process test harness: it opens a chief
// and N-1 workers against a single loopback listener so end-to-end
// scenarios can run within one test binary without external processes.
package dctxtest

import (
	"fmt"
	"net"

	"github.com/arjunv/dctx/pkg/dctx"
	"github.com/arjunv/dctx/pkg/dctx/types"
)

// Cluster is a chief Context plus its workers, all sharing one group.
type Cluster struct {
	Chief   *dctx.Context
	Workers []*dctx.Context
}

// All returns every Context in rank order, chief first.
func (cl *Cluster) All() []*dctx.Context {
	out := make([]*dctx.Context, 0, len(cl.Workers)+1)
	out = append(out, cl.Chief)
	out = append(out, cl.Workers...)
	return out
}

// Close shuts every Context down, workers first so the chief does not
// observe their connections dropping mid-close.
func (cl *Cluster) Close() {
	for _, w := range cl.Workers {
		w.Close()
	}
	cl.Chief.Close()
}

// OpenCluster opens a chief bound to an OS-assigned loopback port, then
// opens size-1 workers pointed at that port.
func OpenCluster(size int, opts ...dctx.Option) (*Cluster, error) {
	chief, err := dctx.Open(types.Configuration{
		Rank: 0, Size: size,
		ChiefHost: "127.0.0.1", ChiefSvc: "0",
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening chief: %w", err)
	}

	_, port, err := net.SplitHostPort(chief.ListenAddr().String())
	if err != nil {
		chief.Close()
		return nil, fmt.Errorf("reading chief listen address: %w", err)
	}

	workers := make([]*dctx.Context, 0, size-1)
	for r := 1; r < size; r++ {
		w, err := dctx.Open(types.Configuration{
			Rank: types.Rank(r), Size: size,
			ChiefHost: "127.0.0.1", ChiefSvc: port,
		}, opts...)
		if err != nil {
			for _, prev := range workers {
				prev.Close()
			}
			chief.Close()
			return nil, fmt.Errorf("opening worker %d: %w", r, err)
		}
		workers = append(workers, w)
	}

	return &Cluster{Chief: chief, Workers: workers}, nil
}
