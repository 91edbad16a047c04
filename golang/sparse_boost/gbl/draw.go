package gbl

import (
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//graphDescription renders the payload of one node for the graph dump.
func (t *RegTree) graphDescription(nid int) string {
	var sb strings.Builder
	node := &t.Nodes[nid]
	stat := t.Stats[nid]
	sb.WriteString(fmt.Sprintln("id: ", nid))
	if node.IsLeaf() {
		sb.WriteString(fmt.Sprintf("leaf = %6.4f\n", node.LeafValue))
	} else {
		sb.WriteString(fmt.Sprintf("f_%d < %6.5f\n", node.SplitIndex, node.SplitCond))
		sb.WriteString(fmt.Sprintln("gain: ", stat.LossChg))
	}
	sb.WriteString(fmt.Sprintln("cover: ", stat.SumHess))
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, tree *RegTree, nid int, parentNode *cgraph.Node) error {
	currentNode, err := g.CreateNode(fmt.Sprint(nid))
	if err != nil {
		return err
	}
	if parentNode != nil {
		if _, err := g.CreateEdge("", parentNode, currentNode); err != nil {
			return err
		}
	}
	currentNode.Set("label", tree.graphDescription(nid))
	if tree.Nodes[nid].IsLeaf() {
		currentNode.Set("shape", "box")
		return nil
	}
	if err := recurrentDraw(g, tree, tree.Nodes[nid].CLeft, currentNode); err != nil {
		return err
	}
	return recurrentDraw(g, tree, tree.Nodes[nid].CRight, currentNode)
}

//DrawGraph builds a graphviz rendering of the tree.
func (t *RegTree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		return nil, nil, err
	}
	for root := 0; root < t.Param.NumRoots; root++ {
		if err := recurrentDraw(graph, t, root, nil); err != nil {
			return nil, nil, err
		}
	}
	return graphViz, graph, nil
}

//RenderGraph writes the tree as a picture file; the format is one of png,
//svg and jpg.
func (t *RegTree) RenderGraph(filename, figureType string) error {
	graphvizType := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]

	graphViz, graph, err := t.DrawGraph()
	if err != nil {
		return err
	}
	return graphViz.RenderFilename(graph, graphvizType, filename)
}
