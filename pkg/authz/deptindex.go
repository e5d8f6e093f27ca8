package authz

import (
	"context"
	"fmt"
	"sync/atomic"
)

// DeptIndex answers department descendant queries without re-walking the
// tree per call. Rebuilds construct a fresh snapshot and publish it
// atomically; readers in flight keep using the snapshot they grabbed, so
// no read path ever takes a lock.
type DeptIndex struct {
	snap atomic.Pointer[deptSnapshot]
}

type deptSnapshot struct {
	version     uint64
	descendants map[int64][]int64 // dept id -> inclusive descendant ids
}

// NewDeptIndex returns an index with an empty snapshot at version 0.
// Until the first Rebuild every lookup degrades to "grants nothing".
func NewDeptIndex() *DeptIndex {
	idx := &DeptIndex{}
	idx.snap.Store(&deptSnapshot{descendants: map[int64][]int64{}})
	return idx
}

// Rebuild pulls the full department set from source and swaps in a new
// snapshot. The snapshot version increases by one on every successful
// rebuild; a failed pull leaves the previous snapshot untouched.
func (x *DeptIndex) Rebuild(ctx context.Context, source DepartmentSource) error {
	depts, err := source.AllDepartments(ctx)
	if err != nil {
		return fmt.Errorf("rebuild department index: %w", err)
	}

	children := make(map[int64][]int64, len(depts))
	ids := make([]int64, 0, len(depts))
	for _, d := range depts {
		ids = append(ids, d.ID)
		if d.ParentID != nil {
			children[*d.ParentID] = append(children[*d.ParentID], d.ID)
		}
	}

	// BFS from every node. Department counts are small (hundreds, not
	// millions) so the quadratic worst case on a degenerate chain is
	// acceptable against the rebuild frequency.
	closure := make(map[int64][]int64, len(depts))
	for _, id := range ids {
		seen := map[int64]bool{id: true}
		order := []int64{id}
		queue := []int64{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range children[cur] {
				if seen[child] {
					continue
				}
				seen[child] = true
				order = append(order, child)
				queue = append(queue, child)
			}
		}
		closure[id] = order
	}

	prev := x.snap.Load()
	x.snap.Store(&deptSnapshot{
		version:     prev.version + 1,
		descendants: closure,
	})
	return nil
}

// DescendantsOf returns the department and all of its descendants,
// inclusive. An unknown id returns an empty slice, not an error: a
// department referenced by a stale grant degrades to granting nothing.
func (x *DeptIndex) DescendantsOf(deptID int64) []int64 {
	snap := x.snap.Load()
	ids := snap.descendants[deptID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// IsAncestorOrSelf reports whether a is b or an ancestor of b.
func (x *DeptIndex) IsAncestorOrSelf(a, b int64) bool {
	for _, id := range x.snap.Load().descendants[a] {
		if id == b {
			return true
		}
	}
	return false
}

// Version returns the snapshot version, bumped once per successful rebuild.
func (x *DeptIndex) Version() uint64 {
	return x.snap.Load().version
}

// Size returns the number of departments in the current snapshot.
func (x *DeptIndex) Size() int {
	return len(x.snap.Load().descendants)
}
