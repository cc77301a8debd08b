package canvas

import (
	"errors"
	"fmt"
)

// ErrInvalidDiff indicates a diff whose op or payload is malformed.
var ErrInvalidDiff = errors.New("canvas: invalid diff")

// DiffOp tags a diff variant. Add carries the full entity in To, Update
// carries a delta in To, Delete carries the prior entity in From
// (informational; only its id matters).
type DiffOp string

const (
	OpAdd    DiffOp = "add"
	OpUpdate DiffOp = "update"
	OpDelete DiffOp = "delete"
)

type NodeDiff struct {
	Op   DiffOp `json:"op"`
	To   *Node  `json:"to,omitempty"`
	From *Node  `json:"from,omitempty"`
}

type EdgeDiff struct {
	Op   DiffOp `json:"op"`
	To   *Edge  `json:"to,omitempty"`
	From *Edge  `json:"from,omitempty"`
}

// TargetID resolves the node id the diff addresses. Deletes name their
// target through From; To is accepted as a fallback for clients that only
// echo the id back.
func (d NodeDiff) TargetID() string {
	if d.Op == OpDelete && d.From != nil {
		return d.From.ID
	}
	if d.To != nil {
		return d.To.ID
	}
	if d.From != nil {
		return d.From.ID
	}
	return ""
}

// TargetID resolves the edge id the diff addresses.
func (d EdgeDiff) TargetID() string {
	if d.Op == OpDelete && d.From != nil {
		return d.From.ID
	}
	if d.To != nil {
		return d.To.ID
	}
	if d.From != nil {
		return d.From.ID
	}
	return ""
}

func (d NodeDiff) validate() error {
	return validateDiff("node", string(d.Op), d.TargetID())
}

func (d EdgeDiff) validate() error {
	return validateDiff("edge", string(d.Op), d.TargetID())
}

func validateDiff(kind, op, targetID string) error {
	switch DiffOp(op) {
	case OpAdd, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown %s op %q", ErrInvalidDiff, kind, op)
	}
	if targetID == "" {
		return fmt.Errorf("%w: %s %s without target id", ErrInvalidDiff, kind, op)
	}
	return nil
}

// Validate checks every diff in the transaction carries a known op and a
// target id. Graph well-formedness (dangling edges and the like) is
// deliberately not checked at this layer.
func (t Transaction) Validate() error {
	if t.TxID == "" {
		return fmt.Errorf("%w: transaction without txId", ErrInvalidDiff)
	}
	for _, d := range t.NodeDiffs {
		if err := d.validate(); err != nil {
			return err
		}
	}
	for _, d := range t.EdgeDiffs {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}
