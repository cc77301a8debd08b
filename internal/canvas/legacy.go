package canvas

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

type legacyEnvelope struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// DecodeLegacy extracts node and edge collections from a pre-versioning
// document blob. The legacy exporter wrote a JSON envelope
// {"nodes":[...],"edges":[...]}, in some deployments base64-wrapped.
// Migration is best-effort: an empty, truncated or unrecognizable blob
// yields empty collections rather than an error.
func DecodeLegacy(data []byte) ([]Node, []Edge) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []Node{}, []Edge{}
	}

	if nodes, edges, ok := decodeEnvelope(trimmed); ok {
		return nodes, edges
	}

	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err == nil {
		if nodes, edges, ok := decodeEnvelope(decoded); ok {
			return nodes, edges
		}
	}

	return []Node{}, []Edge{}
}

func decodeEnvelope(data []byte) ([]Node, []Edge, bool) {
	var env legacyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, false
	}
	if env.Nodes == nil {
		env.Nodes = []Node{}
	}
	if env.Edges == nil {
		env.Edges = []Edge{}
	}
	return env.Nodes, env.Edges, true
}
