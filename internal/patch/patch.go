// Package patch implements RFC 6902 JSON Patch and RFC 7396 JSON Merge
// Patch over bdoc node trees, plus the engine's non-standard extension
// operations increment, swap, and add_create.
package patch

import (
	"errors"
	"fmt"

	"embeddb/internal/bdoc"
)

// Sentinel errors, wrapped by the facade's error-kind layer.
var (
	ErrParse         = errors.New("patch: parse error")
	ErrTargetInvalid = errors.New("patch: target invalid")
	ErrTestFailed    = errors.New("patch: test failed")
	ErrInvalidValue  = errors.New("patch: invalid value")
)

// Op is one parsed patch operation.
type Op struct {
	Kind  string
	Path  bdoc.Pointer
	From  bdoc.Pointer
	Value *bdoc.Node
}

// ParseOps parses a patch document — a JSON array of operation objects
// — into a slice of Op, in application order.
func ParseOps(doc *bdoc.Node) ([]Op, error) {
	if doc == nil || doc.Tag != bdoc.TagArray {
		return nil, fmt.Errorf("%w: patch document must be an array", ErrParse)
	}
	ops := make([]Op, 0, doc.Len())
	for _, item := range doc.Items() {
		if item.Tag != bdoc.TagObject {
			return nil, fmt.Errorf("%w: patch operation must be an object", ErrParse)
		}
		opNode, ok := item.Get("op")
		if !ok || opNode.Tag != bdoc.TagString {
			return nil, fmt.Errorf("%w: missing op", ErrParse)
		}
		pathNode, ok := item.Get("path")
		if !ok || pathNode.Tag != bdoc.TagString {
			return nil, fmt.Errorf("%w: missing path", ErrParse)
		}
		path, err := bdoc.ParsePointer(pathNode.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		op := Op{Kind: opNode.String(), Path: path}
		if fromNode, ok := item.Get("from"); ok {
			from, err := bdoc.ParsePointer(fromNode.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			op.From = from
		}
		if v, ok := item.Get("value"); ok {
			op.Value = v
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Apply applies ops to root in order and returns the resulting root
// (which may differ from the input, e.g. "remove" on "" yields a fresh
// empty object).
func Apply(root *bdoc.Node, ops []Op) (*bdoc.Node, error) {
	for _, op := range ops {
		var err error
		root, err = applyOne(root, op)
		if err != nil {
			return nil, err
		}
	}
	return root, nil
}

func applyOne(root *bdoc.Node, op Op) (*bdoc.Node, error) {
	switch op.Kind {
	case "add":
		return root, doAdd(root, op.Path, op.Value, false)
	case "add_create":
		return root, doAdd(root, op.Path, op.Value, true)
	case "remove":
		if len(op.Path) == 0 {
			return bdoc.NewObject(), nil
		}
		loc, ok := bdoc.Locate(root, op.Path, false)
		if !ok || !loc.Exists {
			return root, fmt.Errorf("%w: remove target missing", ErrTargetInvalid)
		}
		loc.Remove()
		return root, nil
	case "replace":
		if op.Value == nil {
			return root, fmt.Errorf("%w: replace requires value", ErrInvalidValue)
		}
		if len(op.Path) == 0 {
			return op.Value, nil
		}
		loc, ok := bdoc.Locate(root, op.Path, false)
		if !ok || !loc.Exists {
			return root, fmt.Errorf("%w: replace target missing", ErrTargetInvalid)
		}
		loc.Set(op.Value)
		return root, nil
	case "move":
		v, ok := bdoc.ResolveNode(root, op.From)
		if !ok {
			return root, fmt.Errorf("%w: move source missing", ErrTargetInvalid)
		}
		fromLoc, ok := bdoc.Locate(root, op.From, false)
		if !ok {
			return root, fmt.Errorf("%w: move source missing", ErrTargetInvalid)
		}
		cloned := v.Clone()
		fromLoc.Remove()
		if len(op.Path) == 0 {
			return cloned, nil
		}
		if err := doAdd(root, op.Path, cloned, false); err != nil {
			return root, err
		}
		return root, nil
	case "copy":
		v, ok := bdoc.ResolveNode(root, op.From)
		if !ok {
			return root, fmt.Errorf("%w: copy source missing", ErrTargetInvalid)
		}
		if len(op.Path) == 0 {
			return v.Clone(), nil
		}
		if err := doAdd(root, op.Path, v.Clone(), false); err != nil {
			return root, err
		}
		return root, nil
	case "test":
		v, ok := bdoc.ResolveNode(root, op.Path)
		if !ok {
			return root, fmt.Errorf("%w: test target missing", ErrTestFailed)
		}
		if !bdoc.Equal(v, op.Value) {
			return root, fmt.Errorf("%w: value mismatch at %s", ErrTestFailed, op.Path)
		}
		return root, nil
	case "increment":
		return root, doIncrement(root, op.Path, op.Value)
	case "swap":
		return root, doSwap(root, op.Path, op.From)
	default:
		return root, fmt.Errorf("%w: unknown op %q", ErrParse, op.Kind)
	}
}

func doAdd(root *bdoc.Node, path bdoc.Pointer, value *bdoc.Node, createIntermediate bool) error {
	if value == nil {
		return fmt.Errorf("%w: add requires value", ErrInvalidValue)
	}
	if len(path) == 0 {
		return fmt.Errorf("%w: add to root requires replace semantics", ErrTargetInvalid)
	}
	loc, ok := bdoc.Locate(root, path, createIntermediate)
	if !ok {
		return fmt.Errorf("%w: add parent missing", ErrTargetInvalid)
	}
	loc.Set(value)
	return nil
}

func doIncrement(root *bdoc.Node, path bdoc.Pointer, delta *bdoc.Node) error {
	if delta == nil || !isNumeric(delta) {
		return fmt.Errorf("%w: increment value must be numeric", ErrInvalidValue)
	}
	loc, ok := bdoc.Locate(root, path, false)
	if !ok || !loc.Exists {
		return fmt.Errorf("%w: increment target missing", ErrTargetInvalid)
	}
	cur, _ := loc.Get()
	if !isNumeric(cur) {
		return fmt.Errorf("%w: increment target must be numeric", ErrInvalidValue)
	}
	if cur.Tag == bdoc.TagF64 || delta.Tag == bdoc.TagF64 {
		loc.Set(bdoc.NewF64(cur.Float64() + delta.Float64()))
	} else {
		loc.Set(bdoc.NewI64(cur.Int64() + delta.Int64()))
	}
	return nil
}

func isNumeric(n *bdoc.Node) bool {
	if n == nil {
		return false
	}
	switch n.Tag {
	case bdoc.TagI8, bdoc.TagI16, bdoc.TagI32, bdoc.TagI64,
		bdoc.TagU8, bdoc.TagU16, bdoc.TagU32, bdoc.TagU64, bdoc.TagF64:
		return true
	default:
		return false
	}
}

func doSwap(root *bdoc.Node, path, from bdoc.Pointer) error {
	pathLoc, ok := bdoc.Locate(root, path, false)
	if !ok || !pathLoc.Exists {
		return fmt.Errorf("%w: swap path missing", ErrTargetInvalid)
	}
	fromLoc, ok := bdoc.Locate(root, from, false)
	if !ok || !fromLoc.Exists {
		return fmt.Errorf("%w: swap from missing", ErrTargetInvalid)
	}
	pathVal, _ := pathLoc.Get()
	fromVal, _ := fromLoc.Get()
	pathLoc.Set(fromVal)
	fromLoc.Set(pathVal)
	return nil
}

// MergePatch applies an RFC 7396 merge patch: a null value in patch
// removes the corresponding key, a non-object patch value replaces the
// target wholesale, otherwise corresponding object members are merged
// recursively.
func MergePatch(target, patch *bdoc.Node) *bdoc.Node {
	if patch == nil {
		return target
	}
	if patch.Tag != bdoc.TagObject {
		return patch.Clone()
	}
	if target == nil || target.Tag != bdoc.TagObject {
		target = bdoc.NewObject()
	} else {
		target = target.Clone()
	}
	for _, m := range patch.Members() {
		if m.Value.Tag == bdoc.TagNull {
			target.Delete(m.Key)
			continue
		}
		existing, _ := target.Get(m.Key)
		target.Set(m.Key, MergePatch(existing, m.Value))
	}
	return target
}
