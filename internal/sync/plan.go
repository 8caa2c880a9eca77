package sync

import (
	"sort"

	"github.com/schaermu/vclsync/internal/fastly"
)

// FileOp is one VCL file to create or update on the new version
type FileOp struct {
	Name    string
	Content string
}

// Plan represents the sync operations to perform. The three sets are
// pairwise disjoint: a name appears in at most one of them.
type Plan struct {
	ToCreate []FileOp
	ToUpdate []FileOp
	ToDelete []string
}

// Empty returns true if the plan contains no operations
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// BuildPlan computes the diff between local VCL files (logical name to
// content) and the remote active version's file set:
//
//   - create: present locally, absent remotely
//   - delete: present remotely, absent locally
//   - update: present in both with different content (byte-for-byte compare)
//
// Operations are sorted by name so runs log deterministically.
func BuildPlan(local map[string]string, remote []fastly.VCL) Plan {
	remoteContent := make(map[string]string, len(remote))
	for _, v := range remote {
		remoteContent[v.Name] = v.Content
	}

	var plan Plan

	for name, content := range local {
		current, exists := remoteContent[name]
		if !exists {
			plan.ToCreate = append(plan.ToCreate, FileOp{Name: name, Content: content})
		} else if current != content {
			plan.ToUpdate = append(plan.ToUpdate, FileOp{Name: name, Content: content})
		}
		// else: unchanged, no action needed
	}

	for name := range remoteContent {
		if _, exists := local[name]; !exists {
			plan.ToDelete = append(plan.ToDelete, name)
		}
	}

	sort.Slice(plan.ToCreate, func(i, j int) bool { return plan.ToCreate[i].Name < plan.ToCreate[j].Name })
	sort.Slice(plan.ToUpdate, func(i, j int) bool { return plan.ToUpdate[i].Name < plan.ToUpdate[j].Name })
	sort.Strings(plan.ToDelete)

	return plan
}
