package uiautomation

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Bounds is a node's screen rectangle.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Node is one accessibility node of a window hierarchy.
type Node struct {
	Class       string
	Package     string
	ResourceID  string
	Text        string
	ContentDesc string
	Bounds      Bounds
	Enabled     bool
	Focused     bool
	Selected    bool
	Checked     bool
	Clickable   bool
	Scrollable  bool
	Displayed   bool
	Depth       int
	Parent      *Node
	Children    []*Node
}

// Walk visits n and its descendants depth first. Returning false from fn
// stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node in depth-first order matching pred, or nil.
func (n *Node) Find(pred func(*Node) bool) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if pred(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}

// Describe returns a one-line summary of the node.
func (n *Node) Describe() string {
	var b strings.Builder
	b.WriteString(n.Class)
	if n.ResourceID != "" {
		fmt.Fprintf(&b, " id=%s", n.ResourceID)
	}
	if n.Text != "" {
		fmt.Fprintf(&b, " text=%q", n.Text)
	}
	if n.ContentDesc != "" {
		fmt.Fprintf(&b, " desc=%q", n.ContentDesc)
	}
	fmt.Fprintf(&b, " [%d,%d %dx%d]", n.Bounds.X, n.Bounds.Y, n.Bounds.Width, n.Bounds.Height)
	return b.String()
}

// ParseHierarchy parses a UIAutomator window dump into its root node. It
// accepts both dump formats: class names as element tags
// (<android.widget.FrameLayout>) and <node class="..."> elements. A hierarchy
// with no window yields a nil root and no error. When the dump lists several
// windows the first one, the active window, is returned.
func ParseHierarchy(data string) (*Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(data))

	var (
		root           *Node
		stack          []*Node
		foundHierarchy bool
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse hierarchy: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" && !foundHierarchy {
				foundHierarchy = true
				continue
			}

			n := newNode(t)
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				n.Parent = parent
				n.Depth = parent.Depth + 1
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)

		case xml.EndElement:
			if t.Name.Local == "hierarchy" && len(stack) == 0 {
				continue
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !foundHierarchy {
		return nil, fmt.Errorf("invalid page source: no hierarchy element found")
	}
	return root, nil
}

func newNode(t xml.StartElement) *Node {
	n := &Node{Class: t.Name.Local, Displayed: true}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "class":
			n.Class = attr.Value
		case "package":
			n.Package = attr.Value
		case "resource-id":
			n.ResourceID = attr.Value
		case "text":
			n.Text = attr.Value
		case "content-desc":
			n.ContentDesc = attr.Value
		case "bounds":
			n.Bounds = parseBounds(attr.Value)
		case "enabled":
			n.Enabled = attr.Value == "true"
		case "focused":
			n.Focused = attr.Value == "true"
		case "selected":
			n.Selected = attr.Value == "true"
		case "checked":
			n.Checked = attr.Value == "true"
		case "clickable":
			n.Clickable = attr.Value == "true"
		case "scrollable":
			n.Scrollable = attr.Value == "true"
		case "displayed":
			n.Displayed = attr.Value != "false"
		}
	}
	return n
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]" to Bounds.
func parseBounds(s string) Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])

	return Bounds{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}
