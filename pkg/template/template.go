package template

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/purser-io/purser/pkg/affinity"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// Factory paths for description documents
const (
	ContainerDescriptionsPrefix    = "/descriptions/containers/"
	VolumeDescriptionsPrefix       = "/descriptions/volumes/"
	NetworkDescriptionsPrefix      = "/descriptions/networks/"
	LoadBalancerDescriptionsPrefix = "/descriptions/load-balancers/"
	CompositeDescriptionsPrefix    = "/descriptions/composites/"
)

// Template is the YAML document describing a composite application
type Template struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name       string `yaml:"name"`
		TenantLink string `yaml:"tenant,omitempty"`
	} `yaml:"metadata"`
	Spec Spec `yaml:"spec"`
}

// Spec holds the resource declarations of a template
type Spec struct {
	Containers    []ContainerSpec    `yaml:"containers,omitempty"`
	Volumes       []VolumeSpec       `yaml:"volumes,omitempty"`
	Networks      []NetworkSpec      `yaml:"networks,omitempty"`
	LoadBalancers []LoadBalancerSpec `yaml:"loadBalancers,omitempty"`
}

// ContainerSpec declares one container description
type ContainerSpec struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Env          map[string]string `yaml:"env,omitempty"`
	Volumes      []string          `yaml:"volumes,omitempty"`
	Cluster      int64             `yaml:"replicas,omitempty"`
	MemoryLimit  int64             `yaml:"memoryLimit,omitempty"`
	AutoRedeploy bool              `yaml:"autoRedeploy,omitempty"`
}

// VolumeSpec declares one volume description
type VolumeSpec struct {
	Name    string            `yaml:"name"`
	Driver  string            `yaml:"driver,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// NetworkSpec declares one network description
type NetworkSpec struct {
	Name    string `yaml:"name"`
	Subnet  string `yaml:"subnet,omitempty"`
	Gateway string `yaml:"gateway,omitempty"`
}

// LoadBalancerSpec declares one load balancer description
type LoadBalancerSpec struct {
	Name  string   `yaml:"name"`
	Ports []string `yaml:"ports,omitempty"`
}

// Parse unmarshals and validates a composite template
func Parse(data []byte) (*Template, error) {
	if len(data) == 0 {
		return nil, errdefs.NewValidation("template body is empty")
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errdefs.NewValidation("malformed template: %v", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) validate() error {
	if t.Kind != "" && t.Kind != "Composite" {
		return errdefs.NewValidation("unsupported template kind: %s", t.Kind)
	}
	if t.Metadata.Name == "" {
		return errdefs.NewValidation("template name is required")
	}
	if len(t.Spec.Containers)+len(t.Spec.Volumes)+
		len(t.Spec.Networks)+len(t.Spec.LoadBalancers) == 0 {
		return errdefs.NewValidation("template %s declares no resources", t.Metadata.Name)
	}

	seen := make(map[string]bool)
	for _, c := range t.Spec.Containers {
		if c.Name == "" {
			return errdefs.NewValidation("container name is required")
		}
		if c.Image == "" {
			return errdefs.NewValidation("container %s requires an image", c.Name)
		}
		if seen[c.Name] {
			return errdefs.NewValidation("duplicate resource name: %s", c.Name)
		}
		seen[c.Name] = true
	}
	volumes := make(map[string]bool)
	for _, v := range t.Spec.Volumes {
		if v.Name == "" {
			return errdefs.NewValidation("volume name is required")
		}
		if seen[v.Name] {
			return errdefs.NewValidation("duplicate resource name: %s", v.Name)
		}
		seen[v.Name] = true
		volumes[v.Name] = true
	}
	for _, c := range t.Spec.Containers {
		for _, binding := range c.Volumes {
			name := volumeNameOf(binding)
			if !volumes[name] {
				return errdefs.NewValidation("container %s binds undeclared volume %s", c.Name, name)
			}
		}
	}
	return nil
}

// Expand turns the template into a composite description with affinity
// constraints applied. Containers sharing host-bound volumes come out
// pinned to their group's anchor.
func (t *Template) Expand() *types.CompositeDescription {
	composite := &types.CompositeDescription{
		SelfLink:   CompositeDescriptionsPrefix + uuid.New().String(),
		Name:       t.Metadata.Name,
		TenantLink: t.Metadata.TenantLink,
	}

	for _, c := range t.Spec.Containers {
		composite.Containers = append(composite.Containers, &types.ContainerDescription{
			SelfLink:     ContainerDescriptionsPrefix + uuid.New().String(),
			Name:         c.Name,
			Image:        c.Image,
			Env:          envList(c.Env),
			Volumes:      c.Volumes,
			Cluster:      c.Cluster,
			MemoryLimit:  c.MemoryLimit,
			AutoRedeploy: c.AutoRedeploy,
			TenantLink:   t.Metadata.TenantLink,
		})
	}
	for _, v := range t.Spec.Volumes {
		composite.Volumes = append(composite.Volumes, &types.VolumeDescription{
			SelfLink:   VolumeDescriptionsPrefix + uuid.New().String(),
			Name:       v.Name,
			Driver:     v.Driver,
			Options:    v.Options,
			TenantLink: t.Metadata.TenantLink,
		})
	}
	for _, n := range t.Spec.Networks {
		composite.Networks = append(composite.Networks, &types.NetworkDescription{
			SelfLink:   NetworkDescriptionsPrefix + uuid.New().String(),
			Name:       n.Name,
			Subnet:     n.Subnet,
			Gateway:    n.Gateway,
			TenantLink: t.Metadata.TenantLink,
		})
	}
	for _, lb := range t.Spec.LoadBalancers {
		composite.LoadBalancers = append(composite.LoadBalancers, &types.LoadBalancerDescription{
			SelfLink:   LoadBalancerDescriptionsPrefix + uuid.New().String(),
			Name:       lb.Name,
			Ports:      lb.Ports,
			TenantLink: t.Metadata.TenantLink,
		})
	}

	affinity.ApplyLocalVolumeConstraints(composite.Containers, composite.Volumes)
	return composite
}

// Import parses, expands and persists a template, returning the stored
// composite description
func Import(store storage.Store, data []byte) (*types.CompositeDescription, error) {
	t, err := Parse(data)
	if err != nil {
		return nil, err
	}
	composite := t.Expand()

	for _, c := range composite.Containers {
		if err := store.CreateContainerDescription(c); err != nil {
			return nil, err
		}
	}
	for _, v := range composite.Volumes {
		if err := store.CreateVolumeDescription(v); err != nil {
			return nil, err
		}
	}
	for _, n := range composite.Networks {
		if err := store.CreateNetworkDescription(n); err != nil {
			return nil, err
		}
	}
	for _, lb := range composite.LoadBalancers {
		if err := store.CreateLoadBalancerDescription(lb); err != nil {
			return nil, err
		}
	}
	if err := store.CreateCompositeDescription(composite); err != nil {
		return nil, err
	}

	log.WithComponent("template").Info().
		Str("name", composite.Name).
		Int("containers", len(composite.Containers)).
		Int("volumes", len(composite.Volumes)).
		Msg("Imported composite template")
	return composite, nil
}

// envList flattens an env map into sorted KEY=VALUE entries
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}

func volumeNameOf(binding string) string {
	for i := 0; i < len(binding); i++ {
		if binding[i] == ':' {
			return binding[:i]
		}
	}
	return binding
}
