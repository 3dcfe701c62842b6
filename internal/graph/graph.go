// Package graph implements a small directed-graph type used by the
// dependency solver: node storage, edge bookkeeping and a depth-first cycle
// check. It provides no topological sort. It knows nothing about packages,
// versions or provisions — internal/solver owns that semantics and only
// uses this package for generic graph storage.
package graph

import "github.com/crossplane/crossplane-runtime/pkg/errors"

// Node is anything identifiable by a unique string that can carry edges to
// other nodes.
type Node interface {
	ID() string
}

// Graph is a directed graph addressed by node ID.
type Graph struct {
	nodes map[string]Node
	edges map[string][]string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{nodes: map[string]Node{}, edges: map[string][]string{}}
}

// AddNode registers a node. Re-adding the same ID overwrites the stored
// node value but keeps existing edges.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID()] = n
}

// Has reports whether a node with the given ID is present.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Get returns the node stored under id, if any.
func (g *Graph) Get(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// AddEdge records a directed edge from -> to. Both ends must already be
// registered via AddNode.
func (g *Graph) AddEdge(from, to string) error {
	if !g.Has(from) {
		return errors.Errorf("graph: node %q does not exist", from)
	}
	if !g.Has(to) {
		return errors.Errorf("graph: node %q does not exist", to)
	}
	for _, e := range g.edges[from] {
		if e == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// Neighbors returns the IDs that from has an outgoing edge to.
func (g *Graph) Neighbors(from string) []string {
	return g.edges[from]
}

// Cycle walks the graph depth-first from start and returns the first node
// ID found already on the current path, plus true, if a cycle is
// reachable from start. The second return is false if no cycle exists.
func (g *Graph) Cycle(start string) (string, bool) {
	onStack := map[string]bool{}
	visited := map[string]bool{}
	var walk func(id string) (string, bool)
	walk = func(id string) (string, bool) {
		onStack[id] = true
		visited[id] = true
		for _, n := range g.edges[id] {
			if onStack[n] {
				return n, true
			}
			if !visited[n] {
				if found, ok := walk(n); ok {
					return found, true
				}
			}
		}
		onStack[id] = false
		return "", false
	}
	return walk(start)
}
