package affinity

import (
	"strings"

	"github.com/purser-io/purser/pkg/types"
)

// ApplyLocalVolumeConstraints derives placement constraints from shared
// host-bound volumes. Containers transitively connected through volumes with
// the local driver collapse into one connectivity group; the first container
// of the group in input order becomes the anchor and keeps no affinity
// constraint, while every other member gets a single rule pinning it to the
// anchor's host. Volumes with custom drivers are host independent and
// contribute no connectivity. Containers without local volume bindings are
// left untouched.
//
// The function is pure apart from mutating the Affinity field of the given
// container descriptions; for a fixed input order the result is
// deterministic.
func ApplyLocalVolumeConstraints(containers []*types.ContainerDescription,
	volumes []*types.VolumeDescription) {

	local := localVolumeNames(volumes)
	if len(local) == 0 {
		return
	}

	// Union containers through shared local volumes. parent is indexed by
	// container position so the anchor is always the lowest index.
	parent := make([]int, len(containers))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra > rb {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	firstBound := make(map[string]int) // volume name -> first container bound to it
	bound := make([]bool, len(containers))
	for i, c := range containers {
		for _, binding := range c.Volumes {
			name := volumeName(binding)
			if _, isLocal := local[name]; !isLocal {
				continue
			}
			bound[i] = true
			if first, ok := firstBound[name]; ok {
				union(first, i)
			} else {
				firstBound[name] = i
			}
		}
	}

	// Count group sizes; only groups of two or more impose constraints.
	groupSize := make(map[int]int)
	for i := range containers {
		if bound[i] {
			groupSize[find(i)]++
		}
	}

	for i, c := range containers {
		if !bound[i] {
			continue
		}
		root := find(i)
		if groupSize[root] < 2 {
			continue
		}
		if root == i {
			// anchor: no affinity constraint
			c.Affinity = nil
			continue
		}
		c.Affinity = []string{containers[root].Name}
	}
}

// localVolumeNames collects the names of host-bound volumes. An unset driver
// means the default local driver.
func localVolumeNames(volumes []*types.VolumeDescription) map[string]struct{} {
	local := make(map[string]struct{})
	for _, v := range volumes {
		if v.Driver == "" || v.Driver == types.DriverLocal {
			local[v.Name] = struct{}{}
		}
	}
	return local
}

// volumeName extracts the volume name from a "volumeName:/container/path"
// binding
func volumeName(binding string) string {
	if idx := strings.Index(binding, ":"); idx >= 0 {
		return binding[:idx]
	}
	return binding
}
