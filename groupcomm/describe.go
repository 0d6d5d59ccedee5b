package groupcomm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Describe renders the client's operator topologies as a table, one
// row per operator.
func (c *GroupCommClient) Describe() string {

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`group`, `operator`, `type`, `role`, `parent`, `children`, `state`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})

	for _, groupName := range c.order {
		group := c.groups[groupName]
		for _, opName := range group.order {
			topology := group.topologies[opName]

			role := `root`
			parent := `-`
			if topology.HasParent() {
				role = `interior`
				parent = topology.ParentId()
			}
			if !topology.HasChildren() {
				role = `leaf`
			}

			children := `-`
			if topology.HasChildren() {
				children = strings.Join(topology.ChildIds(), `, `)
			}

			table.Append([]string{
				groupName,
				opName,
				topology.Type().String(),
				role,
				parent,
				children,
				topology.State(),
			})
		}
	}

	table.Render()

	return fmt.Sprintf("task [%s]\n%s", c.conf.SelfId, b.String())
}
