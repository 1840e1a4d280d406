// Package queue keeps the ordered view of active requests that nurses work from.
package queue

import (
	"sync"

	"github.com/google/btree"

	"github.com/jwalitptl/nurse-call-api/internal/model"
)

const degree = 16

// Less is the canonical display order: priority rank, then arrival time.
// The id breaks exact timestamp ties so the order stays total.
func Less(a, b model.Request) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Index holds active (pending or assigned) requests in Less order.
// Priority, createdAt and id are immutable, so an entry's position never
// moves once inserted.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[model.Request]
	byID map[string]model.Request
}

func NewIndex() *Index {
	return &Index{
		tree: btree.NewG(degree, Less),
		byID: make(map[string]model.Request),
	}
}

// OnChange incorporates a committed request value: active requests are
// inserted or replaced in place, anything else is removed.
func (x *Index) OnChange(req model.Request) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.byID[req.ID]; ok && !req.Status.Active() {
		x.tree.Delete(old)
		delete(x.byID, req.ID)
		return
	}
	if !req.Status.Active() {
		return
	}

	req = req.Clone()
	x.tree.ReplaceOrInsert(req)
	x.byID[req.ID] = req
}

// Rebuild replaces the whole index, keeping only active requests.
func (x *Index) Rebuild(reqs []model.Request) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.tree.Clear(false)
	x.byID = make(map[string]model.Request, len(reqs))
	for _, req := range reqs {
		if !req.Status.Active() {
			continue
		}
		req = req.Clone()
		x.tree.ReplaceOrInsert(req)
		x.byID[req.ID] = req
	}
}

// Snapshot returns a point-in-time copy in display order.
func (x *Index) Snapshot() []model.Request {
	return x.collect(func(model.Request) bool { return true })
}

// AssignedTo returns the active requests claimed by nurseID in display order.
func (x *Index) AssignedTo(nurseID string) []model.Request {
	return x.collect(func(req model.Request) bool { return req.NurseID() == nurseID })
}

func (x *Index) collect(keep func(model.Request) bool) []model.Request {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]model.Request, 0, x.tree.Len())
	x.tree.Ascend(func(req model.Request) bool {
		if keep(req) {
			out = append(out, req.Clone())
		}
		return true
	})
	return out
}

func (x *Index) Contains(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byID[id]
	return ok
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}
