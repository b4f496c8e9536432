package filterquery

import (
	"fmt"
	"io"
	"strings"
)

// PrintTree writes n as an indented outline, one node per line.
func PrintTree(w io.Writer, n Node) error {
	return printTree(w, n, 0)
}

func printTree(w io.Writer, n Node, level int) error {
	if n == nil {
		return nil
	}
	line := strings.Repeat("  ", level) + n.NodeType()
	if detail := describe(n); detail != "" {
		line += " " + detail
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range Children(n) {
		if err := printTree(w, c, level+1); err != nil {
			return err
		}
	}
	return nil
}

func describe(n Node) string {
	switch n := n.(type) {
	case *Accessor:
		return n.Key
	case *Value[float64], *Value[string], *BooleanValue:
		return n.String()
	case *Comparison:
		return string(n.Op)
	case *Boolean:
		return string(n.Op)
	}
	return ""
}

// PrintMermaid writes n as a mermaid flowchart with one edge per
// structural child. A non empty title is emitted as front matter.
func PrintMermaid(w io.Writer, n Node, title string) error {
	if n == nil {
		return nil
	}
	var b strings.Builder
	if title != "" {
		r := strings.NewReplacer("&", "#amp;", ">", "#gt;", "<", "#lt;")
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", r.Replace(title))
	}
	b.WriteString("flowchart TD\n")
	next := 0
	var walk func(n Node, from string)
	walk = func(n Node, from string) {
		id := next
		next++
		label := n.NodeType()
		switch n := n.(type) {
		case *Comparison:
			label += " " + mermaidOp(n.Op)
		case *Boolean:
			label += " " + mermaidOp(n.Op)
		}
		fmt.Fprintf(&b, "  %s --> %d[%s]\n", from, id, label)
		for _, c := range Children(n) {
			walk(c, fmt.Sprint(id))
		}
	}
	walk(n, "start")
	_, err := io.WriteString(w, b.String())
	return err
}

func mermaidOp(op Operator) string {
	switch op {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpGt:
		return "#gt;"
	case OpGte:
		return "#gt;="
	case OpLt:
		return "#lt;"
	case OpLte:
		return "#lt;="
	}
	return string(op)
}
