package zkgroup

import "strings"

// DefaultNamespace is the fixed root under which all service groups live.
const DefaultNamespace = "zkgroup"

const (
	// memberPrefix names the ephemeral sequential member nodes under the
	// group path.
	memberPrefix = "n_"
	// electionNode is the fixed sibling under the group path holding
	// leader-election bookkeeping nodes.
	electionNode = "election"
)

// BuildPath derives the group path for a service's node group. Pure string
// work, no store I/O.
func BuildPath(namespace, serviceName, nodeName string) string {
	return "/" + namespace + "/" + serviceName + "/" + nodeName
}

// Ancestors returns every non-root prefix of path, shallowest first and
// ending with path itself, so callers can create missing nodes in dependency
// order.
func Ancestors(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	segments := strings.Split(trimmed, "/")
	out := make([]string, 0, len(segments))
	current := ""
	for _, seg := range segments {
		current += "/" + seg
		out = append(out, current)
	}
	return out
}
