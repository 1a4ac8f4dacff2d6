package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/types"
)

func container(name string, volumes ...string) *types.ContainerDescription {
	return &types.ContainerDescription{Name: name, Volumes: volumes}
}

func localVolume(name string) *types.VolumeDescription {
	return &types.VolumeDescription{Name: name, Driver: types.DriverLocal}
}

func customVolume(name string) *types.VolumeDescription {
	return &types.VolumeDescription{Name: name, Driver: "flocker"}
}

// TestConnectivityGroups covers the three-group scenario: C1-C3 connected
// through L1/L2, C4-C5 through L3, and C6 alone on L4.
func TestConnectivityGroups(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "l1:/data"),
		container("c2", "l2:/data"),
		container("c3", "l1:/a", "l2:/b"),
		container("c4", "l3:/data"),
		container("c5", "l3:/data"),
		container("c6", "l4:/data"),
	}
	volumes := []*types.VolumeDescription{
		localVolume("l1"), localVolume("l2"), localVolume("l3"), localVolume("l4"),
	}

	ApplyLocalVolumeConstraints(containers, volumes)

	// First group: exactly one of c1-c3 unconstrained, the others point at it.
	group1 := containers[:3]
	var anchors []string
	for _, c := range group1 {
		if len(c.Affinity) == 0 {
			anchors = append(anchors, c.Name)
		}
	}
	require.Len(t, anchors, 1)
	for _, c := range group1 {
		if c.Name == anchors[0] {
			continue
		}
		require.Len(t, c.Affinity, 1)
		assert.Equal(t, anchors[0], c.Affinity[0])
	}
	// First in input order is the anchor.
	assert.Equal(t, "c1", anchors[0])

	// Second group: c4 anchors, c5 points at it.
	assert.Empty(t, containers[3].Affinity)
	require.Len(t, containers[4].Affinity, 1)
	assert.Equal(t, "c4", containers[4].Affinity[0])

	// c6 is alone on its volume: no constraint.
	assert.Empty(t, containers[5].Affinity)
}

// TestCustomDriverContributesNoConnectivity: a custom-driver volume shared
// between containers does not link them; only the local volume does.
func TestCustomDriverContributesNoConnectivity(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "shared:/data"),
		container("c2", "shared:/data", "remote:/data"),
	}
	volumes := []*types.VolumeDescription{
		localVolume("shared"),
		customVolume("remote"),
	}

	ApplyLocalVolumeConstraints(containers, volumes)

	assert.Empty(t, containers[0].Affinity)
	require.Len(t, containers[1].Affinity, 1)
	assert.Equal(t, "c1", containers[1].Affinity[0])
}

// TestTwoSharedVolumesOneGroup: containers sharing two different local
// volumes still collapse into a single connectivity group.
func TestTwoSharedVolumesOneGroup(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "l1:/a", "l2:/b"),
		container("c2", "l1:/a", "l2:/b"),
	}
	volumes := []*types.VolumeDescription{localVolume("l1"), localVolume("l2")}

	ApplyLocalVolumeConstraints(containers, volumes)

	assert.Empty(t, containers[0].Affinity)
	require.Len(t, containers[1].Affinity, 1)
	assert.Equal(t, "c1", containers[1].Affinity[0])
}

func TestNoLocalVolumesLeavesContainersUntouched(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "remote:/data"),
		container("c2", "remote:/data"),
	}
	containers[1].Affinity = []string{"preexisting"}
	volumes := []*types.VolumeDescription{customVolume("remote")}

	ApplyLocalVolumeConstraints(containers, volumes)

	assert.Empty(t, containers[0].Affinity)
	assert.Equal(t, []string{"preexisting"}, containers[1].Affinity)
}

// TestUnsetDriverIsLocal: a volume without an explicit driver is host bound
func TestUnsetDriverIsLocal(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "v:/a"),
		container("c2", "v:/b"),
	}
	volumes := []*types.VolumeDescription{{Name: "v"}}

	ApplyLocalVolumeConstraints(containers, volumes)

	assert.Empty(t, containers[0].Affinity)
	require.Len(t, containers[1].Affinity, 1)
	assert.Equal(t, "c1", containers[1].Affinity[0])
}

// TestAnchorOverwritesPriorAffinity: solver output replaces whatever
// affinity the members carried before.
func TestAnchorOverwritesPriorAffinity(t *testing.T) {
	containers := []*types.ContainerDescription{
		container("c1", "l1:/a"),
		container("c2", "l1:/a"),
	}
	containers[0].Affinity = []string{"stale"}
	containers[1].Affinity = []string{"stale"}
	volumes := []*types.VolumeDescription{localVolume("l1")}

	ApplyLocalVolumeConstraints(containers, volumes)

	assert.Nil(t, containers[0].Affinity)
	assert.Equal(t, []string{"c1"}, containers[1].Affinity)
}

// TestDeterminism: a fixed input order always yields the same anchors
func TestDeterminism(t *testing.T) {
	build := func() ([]*types.ContainerDescription, []*types.VolumeDescription) {
		return []*types.ContainerDescription{
				container("a", "l1:/x"),
				container("b", "l2:/x"),
				container("c", "l1:/y", "l2:/y"),
			}, []*types.VolumeDescription{
				localVolume("l1"), localVolume("l2"),
			}
	}

	first, firstVols := build()
	ApplyLocalVolumeConstraints(first, firstVols)
	for i := 0; i < 10; i++ {
		again, againVols := build()
		ApplyLocalVolumeConstraints(again, againVols)
		for j := range first {
			assert.Equal(t, first[j].Affinity, again[j].Affinity)
		}
	}
}
