package render

import (
	"fmt"
	"slices"
	"text/template"
	"text/template/parse"
)

// ExtractVariables returns the sorted, de-duplicated payload keys referenced
// by text. Only the first field of a chain counts: {{.client.name}} yields
// "client". Fields inside range and with bodies belong to the element, not
// the payload, and are not reported.
func (r *Renderer) ExtractVariables(text string) ([]string, error) {
	t, err := template.New("vars").Funcs(r.funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	seen := make(map[string]struct{})
	for _, tmpl := range t.Templates() {
		if tmpl.Tree != nil {
			walk(tmpl.Tree.Root, seen, false)
		}
	}

	vars := make([]string, 0, len(seen))
	for k := range seen {
		vars = append(vars, k)
	}
	slices.Sort(vars)
	return vars, nil
}

// walk records payload keys under node. Inside range and with bodies dot is
// rebound, so fields there are not payload keys; only $.key counts.
func walk(node parse.Node, seen map[string]struct{}, rebound bool) {
	switch n := node.(type) {
	case nil:
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, seen, rebound)
		}
	case *parse.ActionNode:
		walk(n.Pipe, seen, rebound)
	case *parse.IfNode:
		walk(n.Pipe, seen, rebound)
		walk(n.List, seen, rebound)
		walk(n.ElseList, seen, rebound)
	case *parse.RangeNode:
		walkScope(&n.BranchNode, seen, rebound)
	case *parse.WithNode:
		walkScope(&n.BranchNode, seen, rebound)
	case *parse.TemplateNode:
		walk(n.Pipe, seen, rebound)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, seen, rebound)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walk(arg, seen, rebound)
		}
	case *parse.FieldNode:
		if !rebound && len(n.Ident) > 0 {
			seen[n.Ident[0]] = struct{}{}
		}
	case *parse.VariableNode:
		// $.name refers to the root payload.
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			seen[n.Ident[1]] = struct{}{}
		}
	case *parse.ChainNode:
		walk(n.Node, seen, rebound)
	}
}

// walkScope handles range and with: the pipeline and the else branch see the
// enclosing dot, the body sees the new one.
func walkScope(b *parse.BranchNode, seen map[string]struct{}, rebound bool) {
	walk(b.Pipe, seen, rebound)
	walk(b.List, seen, true)
	walk(b.ElseList, seen, rebound)
}
