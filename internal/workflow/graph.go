// Package workflow builds the node graph submitted to the inference engine.
package workflow

import (
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
)

// Ref points at output Slot of node NodeID. It encodes as [nodeId, slot].
type Ref struct {
	NodeID string
	Slot   int
}

// Input is either a literal value or a Ref to another node's output.
type Input struct {
	value any
	ref   *Ref
}

func Literal(v any) Input { return Input{value: v} }

func Link(nodeID string, slot int) Input { return Input{ref: &Ref{NodeID: nodeID, Slot: slot}} }

func (in Input) Ref() (Ref, bool) {
	if in.ref == nil {
		return Ref{}, false
	}
	return *in.ref, true
}

func (in Input) Value() any { return in.value }

func (in Input) MarshalJSON() ([]byte, error) {
	if in.ref != nil {
		return sonic.ConfigStd.Marshal([]any{in.ref.NodeID, in.ref.Slot})
	}
	return sonic.ConfigStd.Marshal(in.value)
}

type Node struct {
	ClassType string           `json:"class_type"`
	Inputs    map[string]Input `json:"inputs"`
}

// Graph maps node ids to nodes. It is built fresh per request and not
// mutated after submission.
type Graph map[string]Node

// Validate checks every reference targets a node in the graph.
func (g Graph) Validate() error {
	for _, id := range g.NodeIDs() {
		node := g[id]
		names := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ref, ok := node.Inputs[name].Ref()
			if !ok {
				continue
			}
			if _, found := g[ref.NodeID]; !found {
				return fmt.Errorf("node %s input %s references missing node %s", id, name, ref.NodeID)
			}
		}
	}
	return nil
}

// NodeIDs returns ids in ascending order.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encode renders the graph; map keys are sorted so equal graphs encode to
// equal bytes.
func (g Graph) Encode() ([]byte, error) {
	return sonic.ConfigStd.Marshal(map[string]Node(g))
}

// SamplerSeed returns the seed carried by the sampler node.
func (g Graph) SamplerSeed() int64 {
	node, ok := g[NodeSampler]
	if !ok {
		return 0
	}
	seed, _ := node.Inputs["seed"].Value().(int64)
	return seed
}
