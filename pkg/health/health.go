package health

import (
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/types"
)

// unhealthyStates are the power states counted as unhealthy. ERROR is the
// baseline; extend here when new failure states appear.
var unhealthyStates = map[types.PowerState]struct{}{
	types.PowerStateError: {},
}

// ContextReport summarizes the observed instances of one deployment context
type ContextReport struct {
	ContextID string
	Total     int
	Unhealthy []*types.ResourceState
}

// Inspection is the per-context health partition for one description
type Inspection struct {
	Description *types.ContainerDescription
	Reports     map[string]*ContextReport
}

// Verdict is the overall corrective-action recommendation
type Verdict string

const (
	// VerdictNone: no unhealthy instances anywhere
	VerdictNone Verdict = "NONE"
	// VerdictRedeploy: at least one context has unhealthy instances;
	// failed instances are dropped and recreated, never repaired in place
	VerdictRedeploy Verdict = "REDEPLOY"
)

// Recommendation lists, per context, the instances to remove and the overall
// verdict
type Recommendation struct {
	Verdict           Verdict
	RemovalCandidates map[string][]*types.ResourceState
}

// Inspect partitions the observed instances of each context into healthy and
// unhealthy. Fails fast with ValidationError on nil inputs; no defaulting.
func Inspect(desc *types.ContainerDescription,
	observationsByContext map[string][]*types.ResourceState) (*Inspection, error) {

	if desc == nil {
		return nil, errdefs.NewValidation("description is required")
	}
	if observationsByContext == nil {
		return nil, errdefs.NewValidation("observations are required")
	}

	insp := &Inspection{
		Description: desc,
		Reports:     make(map[string]*ContextReport, len(observationsByContext)),
	}
	for contextID, instances := range observationsByContext {
		report := &ContextReport{
			ContextID: contextID,
			Total:     len(instances),
		}
		for _, instance := range instances {
			if _, bad := unhealthyStates[instance.PowerState]; bad {
				report.Unhealthy = append(report.Unhealthy, instance)
			}
		}
		insp.Reports[contextID] = report
	}
	return insp, nil
}

// Recommend computes the removal candidates per context and the overall
// verdict. Any unhealthy instance in any context yields REDEPLOY; there are
// no threshold-based partial verdicts.
func Recommend(insp *Inspection) (*Recommendation, error) {
	if insp == nil {
		return nil, errdefs.NewValidation("inspection is required")
	}

	rec := &Recommendation{
		Verdict:           VerdictNone,
		RemovalCandidates: make(map[string][]*types.ResourceState),
	}
	for contextID, report := range insp.Reports {
		if len(report.Unhealthy) == 0 {
			continue
		}
		rec.Verdict = VerdictRedeploy
		rec.RemovalCandidates[contextID] = report.Unhealthy
	}
	return rec, nil
}
