package canvas

import "encoding/json"

// ApplyTransaction mutates the node and edge collections with the
// transaction's diffs (node diffs first, then edge diffs, in array order)
// and appends the transaction to the log. Add overwrites an existing
// entity with the same id in place; update merges into an existing entity
// and is a no-op when the id is absent; delete is a no-op when the id is
// already gone. Insertion order of surviving entities is preserved.
func (s *State) ApplyTransaction(tx Transaction) {
	for _, d := range tx.NodeDiffs {
		s.applyNodeDiff(d)
	}
	for _, d := range tx.EdgeDiffs {
		s.applyEdgeDiff(d)
	}
	s.Transactions = append(s.Transactions, tx)
}

func (s *State) applyNodeDiff(d NodeDiff) {
	id := d.TargetID()
	if id == "" {
		return
	}
	idx := -1
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			idx = i
			break
		}
	}
	switch d.Op {
	case OpAdd:
		if d.To == nil {
			return
		}
		if idx >= 0 {
			s.Nodes[idx] = *d.To
			return
		}
		s.Nodes = append(s.Nodes, *d.To)
	case OpUpdate:
		if idx < 0 || d.To == nil {
			return
		}
		s.Nodes[idx] = mergeNode(s.Nodes[idx], *d.To)
	case OpDelete:
		if idx < 0 {
			return
		}
		s.Nodes = append(s.Nodes[:idx], s.Nodes[idx+1:]...)
	}
}

func (s *State) applyEdgeDiff(d EdgeDiff) {
	id := d.TargetID()
	if id == "" {
		return
	}
	idx := -1
	for i := range s.Edges {
		if s.Edges[i].ID == id {
			idx = i
			break
		}
	}
	switch d.Op {
	case OpAdd:
		if d.To == nil {
			return
		}
		if idx >= 0 {
			s.Edges[idx] = *d.To
			return
		}
		s.Edges = append(s.Edges, *d.To)
	case OpUpdate:
		if idx < 0 || d.To == nil {
			return
		}
		s.Edges[idx] = mergeEdge(s.Edges[idx], *d.To)
	case OpDelete:
		if idx < 0 {
			return
		}
		s.Edges = append(s.Edges[:idx], s.Edges[idx+1:]...)
	}
}

func mergeNode(base, delta Node) Node {
	if delta.Type != "" {
		base.Type = delta.Type
	}
	base.Data = mergeData(base.Data, delta.Data)
	return base
}

func mergeEdge(base, delta Edge) Edge {
	if delta.Source != "" {
		base.Source = delta.Source
	}
	if delta.Target != "" {
		base.Target = delta.Target
	}
	base.Data = mergeData(base.Data, delta.Data)
	return base
}

// mergeData shallow-merges two JSON objects, delta keys winning. Payloads
// that are not objects are replaced wholesale.
func mergeData(base, delta json.RawMessage) json.RawMessage {
	if len(delta) == 0 {
		return base
	}
	if len(base) == 0 {
		return delta
	}
	var baseMap, deltaMap map[string]json.RawMessage
	if json.Unmarshal(base, &baseMap) != nil || json.Unmarshal(delta, &deltaMap) != nil {
		return delta
	}
	for key, value := range deltaMap {
		baseMap[key] = value
	}
	merged, err := json.Marshal(baseMap)
	if err != nil {
		return delta
	}
	return merged
}
