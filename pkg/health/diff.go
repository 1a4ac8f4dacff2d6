package health

import (
	"sort"
	"strings"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/types"
)

// FieldMismatch records one field whose observed value differs from the
// declared one. Two mismatches are equal iff all four components match, so
// values are usable as map keys for deduplication.
type FieldMismatch struct {
	DescriptionField string
	StateField       string
	Expected         string
	Actual           string
}

// ContainerDiff is the structural diff between a description and one
// observed instance. An empty Mismatches slice means the instance matches
// its declaration.
type ContainerDiff struct {
	State      *types.ResourceState
	Mismatches []FieldMismatch
}

// FieldComparator compares one declared field against an instance,
// returning a mismatch or nil
type FieldComparator func(desc *types.ContainerDescription, state *types.ResourceState) *FieldMismatch

// Comparators is the extensible comparison set applied by Diff. Environment
// variables and power state are the built-ins; register further comparators
// at init time to widen the diff.
var Comparators = []FieldComparator{
	compareEnv,
	comparePowerState,
}

// Diff produces one diff record per instance, comparing the description's
// declared fields against observed values. Fails with ValidationError when
// either argument is nil.
func Diff(desc *types.ContainerDescription, instances []*types.ResourceState) ([]*ContainerDiff, error) {
	if desc == nil {
		return nil, errdefs.NewValidation("description is required")
	}
	if instances == nil {
		return nil, errdefs.NewValidation("instances are required")
	}

	diffs := make([]*ContainerDiff, 0, len(instances))
	for _, instance := range instances {
		d := &ContainerDiff{State: instance}
		for _, compare := range Comparators {
			if m := compare(desc, instance); m != nil {
				d.Mismatches = append(d.Mismatches, *m)
			}
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

// compareEnv checks the declared environment variables against the observed
// ones, ignoring order
func compareEnv(desc *types.ContainerDescription, state *types.ResourceState) *FieldMismatch {
	expected := canonicalEnv(desc.Env)
	actual := canonicalEnv(state.Env)
	if expected == actual {
		return nil
	}
	return &FieldMismatch{
		DescriptionField: "env",
		StateField:       "env",
		Expected:         expected,
		Actual:           actual,
	}
}

// comparePowerState checks the observed power state against the declared
// expectation, which defaults to RUNNING
func comparePowerState(desc *types.ContainerDescription, state *types.ResourceState) *FieldMismatch {
	expected := types.PowerStateRunning
	if state.PowerState == expected {
		return nil
	}
	return &FieldMismatch{
		DescriptionField: "powerState",
		StateField:       "powerState",
		Expected:         string(expected),
		Actual:           string(state.PowerState),
	}
}

func canonicalEnv(env []string) string {
	sorted := append([]string(nil), env...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
