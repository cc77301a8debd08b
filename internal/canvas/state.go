// Package canvas holds the workspace graph model: versioned snapshots of
// nodes and edges, plus the transaction log of diffs that produced them.
package canvas

import (
	"encoding/json"
	"time"
)

// Node is one element of a workspace graph. Data carries the
// client-defined payload and is opaque to the sync engine.
type Node struct {
	ID   string          `json:"id"`
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge connects two nodes by id. Data is opaque, like Node.Data.
type Edge struct {
	ID     string          `json:"id"`
	Source string          `json:"source,omitempty"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Transaction is a client-submitted batch of diffs. TxID is
// caller-generated; SyncedAt is stamped by the server at commit time.
type Transaction struct {
	TxID      string     `json:"txId"`
	CreatedAt time.Time  `json:"createdAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	NodeDiffs []NodeDiff `json:"nodeDiffs,omitempty"`
	EdgeDiffs []EdgeDiff `json:"edgeDiffs,omitempty"`
}

// State is one complete snapshot of a canvas. Nodes and Edges reflect the
// cumulative effect of applying every entry in Transactions, in order, to
// the empty initial state. Version 0 means the state has never been
// persisted.
type State struct {
	Version      int64         `json:"version"`
	Nodes        []Node        `json:"nodes"`
	Edges        []Edge        `json:"edges"`
	Transactions []Transaction `json:"transactions"`
}

// NewState returns an empty, unversioned state.
func NewState() *State {
	return &State{
		Nodes:        []Node{},
		Edges:        []Edge{},
		Transactions: []Transaction{},
	}
}

// TransactionsSince returns the suffix of the log submitted strictly after
// the given instant, preserving log order.
func (s *State) TransactionsSince(since time.Time) []Transaction {
	out := []Transaction{}
	for _, tx := range s.Transactions {
		if tx.CreatedAt.After(since) {
			out = append(out, tx)
		}
	}
	return out
}
