package config

import "fmt"

// RedactKey implements the credential redaction rule of spec §4.1: any
// rendering of a config or resolved model must emit at most the first 8
// characters of an api_key followed by "***". Short keys and the empty
// key get their own literal renderings so a reader can never mistake a
// redacted short key for one with more characters hidden.
func RedactKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

// Render walks the tree rooted at llm.provider and returns a
// human-readable, credential-redacted summary suitable for the `emxllm
// config` CLI subcommand and for log lines. No operation in this package
// may print a full api_key; this is the single sanctioned rendering path.
func Render(tree Tree) string {
	root, ok := tree.Child("llm")
	if !ok {
		return "(no llm.provider configuration)"
	}
	provider, ok := root.Child("provider")
	if !ok {
		return "(no llm.provider configuration)"
	}

	out := ""
	renderNode(&out, "llm.provider", provider, 0)
	return out
}

func renderNode(out *string, path string, node Tree, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}

	for _, attr := range []string{"type", "api_base", "model", "max_tokens", "timeout_secs"} {
		if v, ok := node[attr]; ok {
			*out += fmt.Sprintf("%s%s.%s = %v\n", indent, path, attr, v)
		}
	}
	if key, ok := node.String("api_key"); ok {
		*out += fmt.Sprintf("%s%s.api_key = %s\n", indent, path, RedactKey(key))
	}

	for _, name := range node.ChildNames() {
		child, _ := node.Child(name)
		renderNode(out, path+"."+name, child, depth+1)
	}
}
