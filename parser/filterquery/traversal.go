package filterquery

// Children returns the structural children of n in evaluation order.
// Missing operands of incomplete nodes are skipped.
func Children(n Node) []Node {
	var out []Node
	add := func(c Node) {
		if c != nil {
			out = append(out, c)
		}
	}
	switch n := n.(type) {
	case *Comparison:
		add(n.Left)
		add(n.Right)
	case *Boolean:
		add(n.Left)
		add(n.Right)
	case *Not:
		add(n.Value)
	case *Group:
		add(n.Value)
	case *List:
		for _, c := range n.Children {
			add(c)
		}
	}
	return out
}

// Traverse calls fn for every node reachable from n, depth first, parents
// before children.
func Traverse(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range Children(n) {
		Traverse(c, fn)
	}
}

// Simplify drops the tokens kept for diagnostics. The tree is modified in
// place and returned.
func Simplify(n Node) Node {
	Traverse(n, func(n Node) {
		switch n := n.(type) {
		case *Accessor:
			n.Token = nil
		case *Value[float64]:
			n.Token = nil
		case *Value[string]:
			n.Token = nil
		case *BooleanValue:
			n.Token = nil
		case *Comparison:
			n.Token = nil
		case *Boolean:
			n.Token = nil
		case *Not:
			n.Token = nil
		case *Group:
			n.Token = nil
		case *List:
			n.Token = nil
		}
	})
	return n
}

// Accessors returns the keys read by n, in traversal order, without
// duplicates.
func Accessors(n Node) []string {
	var keys []string
	seen := map[string]bool{}
	Traverse(n, func(n Node) {
		if a, ok := n.(*Accessor); ok && !seen[a.Key] {
			seen[a.Key] = true
			keys = append(keys, a.Key)
		}
	})
	return keys
}
