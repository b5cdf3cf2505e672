package graphcache

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/model"
)

// Build derives the token adjacency from a set of pairs. Edges are sorted so
// the same pairs always produce the same graph.
func Build(pairs []model.Pair, builtAt time.Time) *model.Graph {
	adjacency := make(map[string][]model.GraphEdge)
	for _, p := range pairs {
		if p.Token0.Address == "" || p.Token1.Address == "" {
			continue
		}
		a, b := key(p.Token0.Address), key(p.Token1.Address)
		pair := key(p.Address)
		adjacency[a] = append(adjacency[a], model.GraphEdge{Pair: pair, Other: b})
		adjacency[b] = append(adjacency[b], model.GraphEdge{Pair: pair, Other: a})
	}
	for token, edges := range adjacency {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Other != edges[j].Other {
				return edges[i].Other < edges[j].Other
			}
			return edges[i].Pair < edges[j].Pair
		})
		adjacency[token] = edges
	}
	return &model.Graph{Adjacency: adjacency, BuiltAt: builtAt.UTC()}
}

// Index answers pair-existence queries from a loaded graph.
type Index struct {
	edges map[[2]common.Address]struct{}
}

// NewIndex returns nil for a nil graph so callers can pass the result of a
// cold Load straight through.
func NewIndex(g *model.Graph) *Index {
	if g == nil {
		return nil
	}
	idx := &Index{edges: make(map[[2]common.Address]struct{})}
	for token, edges := range g.Adjacency {
		if !common.IsHexAddress(token) {
			continue
		}
		a := common.HexToAddress(token)
		for _, e := range edges {
			if !common.IsHexAddress(e.Other) {
				continue
			}
			b := common.HexToAddress(e.Other)
			idx.edges[[2]common.Address{a, b}] = struct{}{}
			idx.edges[[2]common.Address{b, a}] = struct{}{}
		}
	}
	return idx
}

func (i *Index) HasPair(a, b common.Address) bool {
	if i == nil {
		return false
	}
	_, ok := i.edges[[2]common.Address{a, b}]
	return ok
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.edges) / 2
}

func key(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return strings.ToLower(addr)
}
