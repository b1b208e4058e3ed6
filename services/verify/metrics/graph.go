// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const graphName = "metrics"

// Graph renders the registry's dependency graph in DOT.
//
// Each metric is a node labelled with its display label; an edge runs from
// a dependency to the metric that reads it. Mandatory metrics are drawn
// bold and derived metrics as ellipses.
func Graph(r *Registry) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(graphName, "rankdir", "LR"); err != nil {
		return "", err
	}

	defs := r.Definitions()
	for _, d := range defs {
		attrs := map[string]string{
			"label": strconv.Quote(nodeLabel(d)),
			"shape": "box",
		}
		if d.Kind == Derived {
			attrs["shape"] = "ellipse"
		}
		if d.Mandatory {
			attrs["style"] = "bold"
		}
		if err := g.AddNode(graphName, d.Name, attrs); err != nil {
			return "", fmt.Errorf("add node %s: %w", d.Name, err)
		}
	}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if err := g.AddEdge(dep, d.Name, true, nil); err != nil {
				return "", fmt.Errorf("add edge %s -> %s: %w", dep, d.Name, err)
			}
		}
	}
	return g.String(), nil
}

func nodeLabel(d Definition) string {
	label := d.DisplayLabel()
	if d.Threshold != nil {
		label += fmt.Sprintf(" [%s %g]", thresholdOp(d.Direction), *d.Threshold)
	}
	return label
}

func thresholdOp(d Direction) string {
	if d == HigherIsBetter {
		return ">="
	}
	return "<="
}
