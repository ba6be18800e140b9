package query

import (
	"bytes"
	"fmt"

	"embeddb/internal/bdoc"
	"embeddb/internal/btree"
	"embeddb/internal/collection"
	"embeddb/internal/kvstore"
	"embeddb/internal/patch"
)

// Opcode is what a Visitor returns after seeing one matched document.
type Opcode int

const (
	// Continue moves on to the next match.
	Continue Opcode = iota
	// Stop ends the pass; no further documents are visited.
	Stop
	// UpdateAndContinue rewrites the document (mutated in place on the
	// *bdoc.Node the visitor was handed) and re-indexes the affected
	// paths, then continues.
	UpdateAndContinue
	// DeleteAndContinue removes the document and its index entries, then
	// continues.
	DeleteAndContinue
)

// Visitor is called once per emitted document, in the plan's final
// order, after apply/upsert mutation, fields projection, and skip/limit
// have already run. Under count it is called once per matched document
// instead, with no skip/limit windowing or ordering applied.
type Visitor func(id uint64, doc *bdoc.Node) (Opcode, error)

// Result summarizes one Execute pass.
type Result struct {
	// Matched counts every document that satisfied the filter,
	// regardless of skip/limit windowing.
	Matched int
	// Emitted counts documents actually passed to the visitor.
	Emitted int
}

// reindexJob records one document's before/after state for index
// maintenance, applied after the document-store transaction commits.
// internal/btree's Tree opens its own kvstore transaction on every
// mutation, so folding an index write into the same transaction as the
// primary document write would nest two transactions on one goroutine
// against the same store; sequencing index maintenance as a follow-up
// pass avoids that while the per-collection write lock held for the
// whole call keeps other writers from observing the gap.
type reindexJob struct {
	id  uint64
	old *bdoc.Node // nil: no prior indexed state for this id this pass
	new *bdoc.Node // nil: document was deleted
}

// pending is the per-match working state carried from the collection
// pass to emission, whether emission happens immediately (unordered)
// or after a drain (ordered).
type pending struct {
	id           uint64
	display      *bdoc.Node
	real         *bdoc.Node
	priorIndexed *bdoc.Node
	fieldsSet    bool
}

// Execute runs plan to completion, calling visit for every emitted
// document. Candidate ids are enumerated once up front (candidateIDs),
// so apply/del during the pass never revisits or skips a document that
// was part of the original match set.
func Execute(store kvstore.Store, coll *collection.Collection, plan *Plan, visit Visitor) (Result, error) {
	ids, err := candidateIDs(store, coll, plan)
	if err != nil {
		return Result{}, err
	}

	var res Result
	var jobs []reindexJob
	stopped := false
	skipped := int64(0)

	orderActive := plan.OrderBy != "" && !plan.SkipSort && !plan.Count && !plan.Del
	var buf *boundedBuffer
	byID := make(map[uint64]pending)
	if orderActive {
		cap := 0
		if plan.HasLimit {
			cap = int(plan.Skip + plan.Limit)
		}
		buf = newBoundedBuffer(cap, plan.OrderDesc)
	}

	process := func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if stopped {
				break
			}
			raw := b.Get(collection.DocKey(id))
			if raw == nil {
				continue
			}
			doc, err := bdoc.Parse(bdoc.Doc(raw))
			if err != nil {
				return err
			}
			ok, err := matchPath(doc, plan.Query.Path)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			res.Matched++

			priorIndexed := doc.Clone()
			mutated := false
			// count suppresses apply/upsert/del's automatic mutation;
			// the visitor can still request one explicitly via its
			// returned opcode below.
			if !plan.Count {
				if plan.Upsert != nil && plan.Upsert.Doc != nil {
					doc = patch.MergePatch(doc, plan.Upsert.Doc)
					mutated = true
				} else if plan.Apply != nil && plan.Apply.Doc != nil {
					ops, perr := patch.ParseOps(plan.Apply.Doc)
					if perr != nil {
						return perr
					}
					doc, perr = patch.Apply(doc, ops)
					if perr != nil {
						return perr
					}
					mutated = true
				}
			}
			if mutated {
				packed, serr := bdoc.Serialize(doc)
				if serr != nil {
					return serr
				}
				if err := b.Put(collection.DocKey(id), []byte(packed)); err != nil {
					return err
				}
				jobs = append(jobs, reindexJob{id: id, old: priorIndexed, new: doc.Clone()})
				priorIndexed = doc.Clone()
			}

			if plan.Del && !plan.Count {
				if err := b.Delete(collection.DocKey(id)); err != nil {
					return err
				}
				jobs = append(jobs, reindexJob{id: id, old: priorIndexed, new: nil})
				continue
			}

			fieldsSet := len(plan.Fields) > 0
			display := doc
			if fieldsSet {
				display = projectFields(doc, plan.Fields)
			}

			if plan.Count {
				opc, verr := visit(id, display)
				if verr != nil {
					return verr
				}
				stop, jerr := applyOpcode(b, opc, id, display, doc, priorIndexed, fieldsSet, &jobs)
				if jerr != nil {
					return jerr
				}
				if stop {
					stopped = true
				}
				continue
			}

			if orderActive {
				key, _ := resolveField(doc, plan.OrderBy)
				buf.add(orderItem{id: id, doc: doc, key: key})
				byID[id] = pending{id: id, display: display, real: doc, priorIndexed: priorIndexed, fieldsSet: fieldsSet}
				continue
			}

			if skipped < plan.Skip {
				skipped++
				continue
			}
			if plan.HasLimit && int64(res.Emitted) >= plan.Limit {
				continue
			}
			res.Emitted++
			opc, verr := visit(id, display)
			if verr != nil {
				return verr
			}
			stop, jerr := applyOpcode(b, opc, id, display, doc, priorIndexed, fieldsSet, &jobs)
			if jerr != nil {
				return jerr
			}
			if stop {
				stopped = true
			}
		}
		return nil
	}

	// Always run inside a write transaction: even a count-mode pass
	// can mutate, if the visitor returns UpdateAndContinue/
	// DeleteAndContinue for a matched document.
	if err = store.Update(process); err != nil {
		return Result{}, err
	}

	if orderActive {
		drained := buf.drain()
		lo := int(plan.Skip)
		if lo > len(drained) {
			lo = len(drained)
		}
		hi := len(drained)
		if plan.HasLimit && int64(lo)+plan.Limit < int64(hi) {
			hi = lo + int(plan.Limit)
		}
		err = store.Update(func(tx kvstore.Tx) error {
			b := tx.Bucket(coll.DBID)
			for _, it := range drained[lo:hi] {
				if stopped {
					break
				}
				p := byID[it.id]
				res.Emitted++
				opc, verr := visit(it.id, p.display)
				if verr != nil {
					return verr
				}
				stop, jerr := applyOpcode(b, opc, it.id, p.display, p.real, p.priorIndexed, p.fieldsSet, &jobs)
				if jerr != nil {
					return jerr
				}
				if stop {
					stopped = true
				}
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	for _, j := range jobs {
		if err := reindexOne(coll, j); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// applyOpcode performs the write-back/delete an opcode implies and
// records a reindex job for it. A fields-projected display value is
// refused for a structural mutation opcode, since writing the partial
// view back would silently drop the rest of the document.
func applyOpcode(b kvstore.Bucket, opc Opcode, id uint64, display, real, priorIndexed *bdoc.Node, fieldsSet bool, jobs *[]reindexJob) (stop bool, err error) {
	switch opc {
	case Continue:
		return false, nil
	case Stop:
		return true, nil
	case UpdateAndContinue:
		if fieldsSet {
			return false, fmt.Errorf("query: update_and_continue is not valid on a fields-projected result")
		}
		packed, serr := bdoc.Serialize(real)
		if serr != nil {
			return false, serr
		}
		if err := b.Put(collection.DocKey(id), []byte(packed)); err != nil {
			return false, err
		}
		*jobs = append(*jobs, reindexJob{id: id, old: priorIndexed, new: real.Clone()})
		return false, nil
	case DeleteAndContinue:
		if fieldsSet {
			return false, fmt.Errorf("query: delete_and_continue is not valid on a fields-projected result")
		}
		if err := b.Delete(collection.DocKey(id)); err != nil {
			return false, err
		}
		*jobs = append(*jobs, reindexJob{id: id, old: priorIndexed, new: nil})
		return false, nil
	default:
		return false, fmt.Errorf("query: unknown opcode %d", opc)
	}
}

func reindexOne(coll *collection.Collection, job reindexJob) error {
	docKey := collection.DocKey(job.id)
	for _, idx := range coll.IndexesLocked() {
		var oldNode, newNode *bdoc.Node
		if job.old != nil {
			oldNode, _ = resolveField(job.old, idx.Path)
		}
		if job.new != nil {
			newNode, _ = resolveField(job.new, idx.Path)
		}
		oldKey, oldOK := collection.EncodeIndexKey(idx.Mode, oldNode)
		newKey, newOK := collection.EncodeIndexKey(idx.Mode, newNode)
		if oldOK && newOK && bytes.Equal(oldKey, newKey) {
			continue
		}
		if oldOK {
			var delErr error
			if idx.Mode.Unique() {
				delErr = idx.Tree.Del(oldKey)
			} else {
				delErr = idx.Tree.DelKV(oldKey, docKey)
			}
			if delErr != nil && delErr != btree.ErrNotFound {
				return delErr
			}
		}
		if newOK {
			var putErr error
			if idx.Mode.Unique() {
				putErr = idx.Tree.Put(newKey, docKey)
			} else {
				putErr = idx.Tree.PutDup(newKey, docKey)
			}
			if putErr != nil {
				return putErr
			}
		}
	}
	return nil
}

// projectFields builds the "fields" directive's output view: a fresh
// object holding only the requested pointers, each resolved against
// doc and set at the same path in the result (nested paths are
// recreated, mirroring patch.doAdd's add_create semantics).
func projectFields(doc *bdoc.Node, fields []string) *bdoc.Node {
	out := bdoc.NewObject()
	for _, f := range fields {
		ptr, err := bdoc.ParsePointer("/" + f)
		if err != nil {
			continue
		}
		v, ok := bdoc.ResolveNode(doc, ptr)
		if !ok {
			continue
		}
		loc, ok := bdoc.Locate(out, ptr, true)
		if !ok {
			continue
		}
		loc.Set(v.Clone())
	}
	return out
}
