package orchestrator

import (
	"context"
	"fmt"
)

// nodeID names one state of the machine.
type nodeID string

const (
	nodeLoadContext nodeID = "load_context"
	nodePlan        nodeID = "plan"
	nodeThink       nodeID = "think"
	nodeTools       nodeID = "tools"
	nodeFold        nodeID = "fold_results"
	nodeAdvance     nodeID = "advance"
	nodeCorrect     nodeID = "self_correct"
	nodeFinalize    nodeID = "finalize"
	nodeEnd         nodeID = "end"
)

// nodeFunc executes one state and returns a partial state update.
type nodeFunc func(ctx context.Context, st *State) (Delta, error)

// routeFunc picks the next state after a node ran.
type routeFunc func(st *State) nodeID

// graph is the explicit machine table: handlers, routers, and the static set
// of legal transitions used for construction-time validation.
type graph struct {
	start  nodeID
	nodes  map[nodeID]nodeFunc
	routes map[nodeID]routeFunc
	edges  map[nodeID][]nodeID
}

// validate checks the table is closed: the start node exists, every node has
// a router, and every declared edge targets a registered node (or end).
func (g *graph) validate() error {
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("graph: start node %q not registered", g.start)
	}
	for id := range g.nodes {
		if _, ok := g.routes[id]; !ok {
			return fmt.Errorf("graph: node %q has no route", id)
		}
		targets, ok := g.edges[id]
		if !ok || len(targets) == 0 {
			return fmt.Errorf("graph: node %q declares no edges", id)
		}
		for _, target := range targets {
			if target == nodeEnd {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return fmt.Errorf("graph: node %q routes to unregistered node %q", id, target)
			}
		}
	}
	for id := range g.routes {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("graph: route declared for unregistered node %q", id)
		}
	}
	return nil
}

// next routes from id and enforces that the chosen target was declared.
func (g *graph) next(id nodeID, st *State) (nodeID, error) {
	route, ok := g.routes[id]
	if !ok {
		return nodeEnd, fmt.Errorf("graph: no route for node %q", id)
	}
	target := route(st)
	for _, declared := range g.edges[id] {
		if declared == target {
			return target, nil
		}
	}
	return nodeEnd, fmt.Errorf("graph: node %q routed to undeclared target %q", id, target)
}

func staticRoute(target nodeID) routeFunc {
	return func(*State) nodeID { return target }
}
