package types

import (
	"time"
)

// TaskStage is the coarse lifecycle stage of a task document
type TaskStage string

const (
	TaskStageCreated   TaskStage = "CREATED"
	TaskStageStarted   TaskStage = "STARTED"
	TaskStageFinished  TaskStage = "FINISHED"
	TaskStageFailed    TaskStage = "FAILED"
	TaskStageCancelled TaskStage = "CANCELLED"
)

// Terminal reports whether the stage accepts no further domain patches
func (s TaskStage) Terminal() bool {
	return s == TaskStageFinished || s == TaskStageFailed || s == TaskStageCancelled
}

// Ordinal positions stages on the forward-only transition line
func (s TaskStage) Ordinal() int {
	switch s {
	case TaskStageCreated:
		return 0
	case TaskStageStarted:
		return 1
	case TaskStageFinished:
		return 2
	case TaskStageFailed:
		return 3
	case TaskStageCancelled:
		return 4
	}
	return -1
}

// SubStage is the fine-grained state within the STARTED stage,
// specific to each task type
type SubStage string

// Sub-stages shared by every task type
const (
	SubStageCreated   SubStage = "CREATED"
	SubStageCompleted SubStage = "COMPLETED"
	SubStageError     SubStage = "ERROR"
)

// ResourceType identifies the kind of infrastructure resource a task acts on
type ResourceType string

const (
	ResourceTypeContainer    ResourceType = "container"
	ResourceTypeNetwork      ResourceType = "network"
	ResourceTypeVolume       ResourceType = "volume"
	ResourceTypeLoadBalancer ResourceType = "load-balancer"
)

// RequestOperation is the top-level operation a broker request carries
type RequestOperation string

const (
	OperationProvision RequestOperation = "PROVISION_RESOURCE"
	OperationRemove    RequestOperation = "REMOVE_RESOURCE"
)

// CallbackDirection distinguishes create-path from delete-path callbacks
type CallbackDirection string

const (
	CallbackDirectionCreate CallbackDirection = "create"
	CallbackDirectionDelete CallbackDirection = "delete"
)

// TaskCallback references the task (or external URI) waiting on this one,
// plus the sub-stages to report into. Immutable once attached to a task.
type TaskCallback struct {
	ServiceSelfLink  string            `json:"serviceSelfLink,omitempty"`
	SubStageComplete SubStage          `json:"subStageComplete,omitempty"`
	SubStageFailed   SubStage          `json:"subStageFailed,omitempty"`
	Direction        CallbackDirection `json:"direction,omitempty"`
}

// Empty reports whether this is a no-op callback
func (c TaskCallback) Empty() bool {
	return c.ServiceSelfLink == ""
}

// Equal compares callbacks by target URI and target stage only
func (c TaskCallback) Equal(o TaskCallback) bool {
	return c.ServiceSelfLink == o.ServiceSelfLink && c.SubStageComplete == o.SubStageComplete
}

// CallbackResponse is the message delivered to the callback target when a
// task reaches a terminal stage. It is shaped as a task PATCH body.
type CallbackResponse struct {
	Stage            TaskStage         `json:"taskStage"`
	SubStage         SubStage          `json:"taskSubStage"`
	SourceTaskLink   string            `json:"sourceTaskLink"`
	ResourceLinks    []string          `json:"resourceLinks,omitempty"`
	Failure          string            `json:"failure,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// TaskDocument is the persisted unit of work driving one lifecycle step for
// one resource type. Mutated exclusively via versioned PATCH.
type TaskDocument struct {
	SelfLink             string `json:"documentSelfLink"`
	Kind                 string `json:"documentKind"`
	DocumentVersion      int64  `json:"documentVersion"`
	ExpirationTimeMicros int64  `json:"documentExpirationTimeMicros,omitempty"`
	TenantLink           string `json:"tenantLink,omitempty"`

	Stage    TaskStage `json:"taskStage"`
	SubStage SubStage  `json:"taskSubStage"`

	Callback TaskCallback `json:"serviceTaskCallback,omitempty"`

	Operation               RequestOperation  `json:"operation,omitempty"`
	ResourceType            ResourceType      `json:"resourceType,omitempty"`
	ResourceDescriptionLink string            `json:"resourceDescriptionLink,omitempty"`
	ResourceCount           int64             `json:"resourceCount,omitempty"`
	ResourceLinks           []string          `json:"resourceLinks,omitempty"`
	ResourcePoolLink        string            `json:"resourcePoolLink,omitempty"`
	PlacementLink           string            `json:"groupResourcePlacementLink,omitempty"`
	ContextID               string            `json:"contextId,omitempty"`
	CustomProperties        map[string]string `json:"customProperties,omitempty"`

	// Fan-in bookkeeping for counter sub-tasks
	CompletionsRemaining int64 `json:"completionsRemaining,omitempty"`

	// Failure detail, set when Stage is FAILED
	Failure string `json:"failure,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PowerState is the observed run state of a resource instance
type PowerState string

const (
	PowerStateProvisioning PowerState = "PROVISIONING"
	PowerStateRunning      PowerState = "RUNNING"
	PowerStateStopped      PowerState = "STOPPED"
	PowerStateError        PowerState = "ERROR"
	PowerStateRetired      PowerState = "RETIRED"
	PowerStateUnknown      PowerState = "UNKNOWN"
)

// ContainerDescription is the desired specification for a set of containers
type ContainerDescription struct {
	SelfLink         string            `json:"documentSelfLink"`
	Name             string            `json:"name"`
	Image            string            `json:"image,omitempty"`
	Env              []string          `json:"env,omitempty"`
	Volumes          []string          `json:"volumes,omitempty"` // "volumeName:/container/path"
	Affinity         []string          `json:"affinity,omitempty"`
	Cluster          int64             `json:"_cluster,omitempty"` // desired instances per context
	MemoryLimit      int64             `json:"memoryLimit,omitempty"`
	AutoRedeploy     bool              `json:"autoRedeploy,omitempty"`
	TenantLink       string            `json:"tenantLink,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// VolumeDescription is the desired specification for a volume
type VolumeDescription struct {
	SelfLink         string            `json:"documentSelfLink"`
	Name             string            `json:"name"`
	Driver           string            `json:"driver,omitempty"` // "local" or a named custom driver
	Options          map[string]string `json:"options,omitempty"`
	TenantLink       string            `json:"tenantLink,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// DriverLocal is the host-bound volume driver; containers sharing a local
// volume must land on the same host
const DriverLocal = "local"

// NetworkDescription is the desired specification for a network
type NetworkDescription struct {
	SelfLink         string            `json:"documentSelfLink"`
	Name             string            `json:"name"`
	Subnet           string            `json:"subnet,omitempty"`
	Gateway          string            `json:"gateway,omitempty"`
	TenantLink       string            `json:"tenantLink,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// LoadBalancerDescription is the desired specification for a load balancer
type LoadBalancerDescription struct {
	SelfLink         string            `json:"documentSelfLink"`
	Name             string            `json:"name"`
	Ports            []string          `json:"ports,omitempty"` // "frontend:backend"
	TenantLink       string            `json:"tenantLink,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// CompositeDescription groups the heterogeneous descriptions expanded from a
// single template; the affinity solver runs over it during validation
type CompositeDescription struct {
	SelfLink      string                     `json:"documentSelfLink"`
	Name          string                     `json:"name"`
	Containers    []*ContainerDescription    `json:"containers,omitempty"`
	Volumes       []*VolumeDescription       `json:"volumes,omitempty"`
	Networks      []*NetworkDescription      `json:"networks,omitempty"`
	LoadBalancers []*LoadBalancerDescription `json:"loadBalancers,omitempty"`
	TenantLink    string                     `json:"tenantLink,omitempty"`
}

// ResourceState is an allocated instance of any resource type
type ResourceState struct {
	SelfLink         string            `json:"documentSelfLink"`
	Name             string            `json:"name"`
	Type             ResourceType      `json:"resourceType"`
	DescriptionLink  string            `json:"descriptionLink"`
	ContextID        string            `json:"contextId,omitempty"`
	PowerState       PowerState        `json:"powerState"`
	Env              []string          `json:"env,omitempty"`
	TenantLink       string            `json:"tenantLink,omitempty"`
	AdapterReference string            `json:"adapterReference,omitempty"` // e.g. containerd container ID
	CustomProperties map[string]string `json:"customProperties,omitempty"`
	CreatedAt        time.Time         `json:"createdAt,omitempty"`
}

// Placement is a reservation ledger entry: allocation counters for one
// resource pool, broken down per resource description.
// Invariant: the sum of ResourceQuotaPerDescription equals AllocatedInstancesCount.
type Placement struct {
	SelfLink                    string           `json:"documentSelfLink"`
	Name                        string           `json:"name"`
	ResourcePoolLink            string           `json:"resourcePoolLink"`
	TenantLink                  string           `json:"tenantLink,omitempty"`
	MaxInstances                int64            `json:"maxNumberInstances,omitempty"` // 0 = unlimited
	AllocatedInstancesCount     int64            `json:"allocatedInstancesCount"`
	ResourceQuotaPerDescription map[string]int64 `json:"resourceQuotaPerResourceDesc,omitempty"`
	DocumentVersion             int64            `json:"documentVersion"`
}

// Available returns how many more instances the placement admits,
// or -1 when unlimited
func (p *Placement) Available() int64 {
	if p.MaxInstances <= 0 {
		return -1
	}
	return p.MaxInstances - p.AllocatedInstancesCount
}
