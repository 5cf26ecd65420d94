package store

import (
	"errors"
	"time"

	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
)

// removal is the full effect of removing one record, computed before
// anything is changed
type removal struct {
	// order lists removed ids in discovery order, root first
	order   []ident.ID
	removed map[ident.ID]bool

	// repaired holds new states for surviving owners of shallow edges
	repaired    map[ident.ID]*ent.Ent
	repairOrder []ident.ID
}

func (p *removal) changes() []Change {
	out := make([]Change, 0, len(p.order)+len(p.repairOrder))
	for _, id := range p.order {
		out = append(out, Change{Kind: ChangeDelete, ID: id})
	}
	for _, id := range p.repairOrder {
		out = append(out, Change{Kind: ChangePut, ID: id, Record: p.repaired[id]})
	}
	return out
}

// Remove deletes a record together with every record that reaches it
// through a deep edge, transitively. Surviving records with a shallow edge
// into the removed set have that edge repaired: Maybe becomes None and Many
// drops the id. If a surviving record holds a One edge into the removed set
// the whole removal is rejected with a ConstraintError and nothing changes.
// Remove reports false when id is not stored.
func (m *Memory) Remove(id ident.ID) (bool, error) {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return false, err
	}
	if m.records[id] == nil {
		return false, nil
	}

	plan, err := m.planRemovalLocked(id)
	if err != nil {
		if errors.Is(err, ent.ErrIndexCorruption) {
			err = m.poisonLocked(err)
		} else {
			m.metrics.RecordCascade(0, 0, true)
		}
		m.metrics.RecordStoreOperation("remove", err, time.Since(start))
		m.log.LogCascade(id, 0, 0, err)
		return false, err
	}

	_, err = m.commitLocked(id, plan.changes(), nil, func() error {
		return m.applyRemovalLocked(plan)
	})
	m.metrics.RecordStoreOperation("remove", err, time.Since(start))
	if err != nil {
		m.log.LogCascade(id, 0, 0, err)
		return false, err
	}
	m.metrics.RecordCascade(len(plan.order), len(plan.repairOrder), false)
	m.log.LogCascade(id, len(plan.order), len(plan.repairOrder), nil)
	return true, nil
}

// planRemovalLocked walks reverse adjacency from root. Owners reaching the
// removed set through a deep edge join it; shallow owners are repaired once
// the set is final, so an owner removed later in the walk is never repaired.
func (m *Memory) planRemovalLocked(root ident.ID) (*removal, error) {
	plan := &removal{
		order:    []ident.ID{root},
		removed:  map[ident.ID]bool{root: true},
		repaired: make(map[ident.ID]*ent.Ent),
	}

	type shallowRef struct {
		edgeRef
		target ident.ID
	}
	var shallow []shallowRef

	for i := 0; i < len(plan.order); i++ {
		target := plan.order[i]
		for _, ref := range m.ix.refs(target) {
			owner := m.records[ref.owner]
			if owner == nil {
				return nil, corruption(target, "reverse entry names missing owner %d", ref.owner)
			}
			ev, ok := owner.ent.Edge(ref.edge)
			if !ok || !ev.Contains(target) {
				return nil, corruption(target, "reverse entry %d.%s does not point here", ref.owner, ref.edge)
			}
			if ev.Policy() == ent.Deep {
				if !plan.removed[ref.owner] {
					plan.removed[ref.owner] = true
					plan.order = append(plan.order, ref.owner)
				}
				continue
			}
			shallow = append(shallow, shallowRef{edgeRef: ref, target: target})
		}
	}

	now := m.opts.Now()
	for _, ref := range shallow {
		if plan.removed[ref.owner] {
			continue
		}
		rec := plan.repaired[ref.owner]
		if rec == nil {
			rec = m.records[ref.owner].ent.Clone()
			rec.Touch(now)
			plan.repaired[ref.owner] = rec
			plan.repairOrder = append(plan.repairOrder, ref.owner)
		}
		ev, _ := rec.Edge(ref.edge)
		next, err := ev.Without(ref.target)
		if err != nil {
			return nil, &ent.ConstraintError{Owner: ref.owner, Edge: ref.edge, Target: ref.target}
		}
		rec.SetEdge(ref.edge, next)
	}
	return plan, nil
}

// applyRemovalLocked unlinks the removed set, stores the repaired owners
// and releases the removed ids
func (m *Memory) applyRemovalLocked(plan *removal) error {
	for _, id := range plan.order {
		if err := m.unlinkLocked(id); err != nil {
			return err
		}
	}
	for _, id := range plan.repairOrder {
		r := m.records[id]
		if r == nil {
			return corruption(id, "repaired owner vanished during removal")
		}
		if err := m.replaceLocked(r, plan.repaired[id]); err != nil {
			return err
		}
	}
	for _, id := range plan.order {
		if refs := m.ix.reverse[id]; len(refs) > 0 {
			return corruption(id, "%d references survive removal", len(refs))
		}
		m.alloc.Release(id)
	}
	return nil
}
