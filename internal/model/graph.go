package model

import "time"

// GraphEdge links a token to a neighbour through a pair.
type GraphEdge struct {
	Pair  string `json:"pair"`
	Other string `json:"other"`
}

// Graph is the token adjacency derived from known pairs.
type Graph struct {
	Adjacency map[string][]GraphEdge `json:"adjacency"`
	BuiltAt   time.Time              `json:"built_at"`
}
