package groupcomm

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// RenderDOT renders the task's local view of every operator tree as a
// graphviz document: this task, its parent and its children, one
// subgraph per operator.
func (c *GroupCommClient) RenderDOT() string {
	parent := `groupcomm`
	g := gographviz.NewGraph()
	if err := g.SetName(parent); err != nil {
		panic(err)
	}
	if err := g.SetDir(true); err != nil {
		panic(err)
	}

	for _, groupName := range c.order {
		group := c.groups[groupName]
		for _, opName := range group.order {
			topology := group.topologies[opName]
			cluster := fmt.Sprintf(`cluster_%s`, nodeId(groupName, opName, ``))

			if err := g.AddSubGraph(parent, cluster, map[string]string{
				`label`: fmt.Sprintf(`"%s/%s"`, groupName, opName),
			}); err != nil {
				panic(err)
			}

			self := nodeId(groupName, opName, topology.SelfId())
			if err := g.AddNode(cluster, self, map[string]string{
				`fontcolor`: `grey100`,
				`fillcolor`: `slateblue4`,
				`style`:     `filled`,
				`label`:     fmt.Sprintf(`"%s"`, topology.SelfId()),
			}); err != nil {
				panic(err)
			}

			if topology.HasParent() {
				p := nodeId(groupName, opName, topology.ParentId())
				if err := g.AddNode(cluster, p, map[string]string{
					`fillcolor`: `deepskyblue1`,
					`style`:     `filled`,
					`label`:     fmt.Sprintf(`"%s"`, topology.ParentId()),
				}); err != nil {
					panic(err)
				}
				if err := g.AddEdge(p, self, true, nil); err != nil {
					panic(err)
				}
			}

			for _, childId := range topology.ChildIds() {
				ch := nodeId(groupName, opName, childId)
				if err := g.AddNode(cluster, ch, map[string]string{
					`fillcolor`: `limegreen`,
					`style`:     `filled`,
					`label`:     fmt.Sprintf(`"%s"`, childId),
				}); err != nil {
					panic(err)
				}
				if err := g.AddEdge(self, ch, true, nil); err != nil {
					panic(err)
				}
			}
		}
	}

	return g.String()
}

func nodeId(parts ...string) string {
	id := strings.Join(parts, `_`)
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, id)

	return id
}
