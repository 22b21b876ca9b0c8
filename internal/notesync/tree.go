package notesync

import "github.com/starford/laguz/internal/models"

// subtreeIDs returns rootID plus every cached note whose parent chain
// resolves to it.
func subtreeIDs(byID map[string]models.Note, rootID string) []string {
	children := make(map[string][]string, len(byID))
	for id, n := range byID {
		if n.Parent != "" {
			children[n.Parent] = append(children[n.Parent], id)
		}
	}

	out := []string{rootID}
	for i := 0; i < len(out); i++ {
		out = append(out, children[out[i]]...)
	}
	return out
}

// wouldCycle reports whether setting noteID's parent to newParent would make
// the note an ancestor of itself. The visited set guards against walking an
// already-corrupt chain forever.
func wouldCycle(byID map[string]models.Note, noteID, newParent string) bool {
	if newParent == "" {
		return false
	}
	visited := make(map[string]bool)
	for cur := newParent; cur != ""; {
		if cur == noteID {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		n, ok := byID[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}
