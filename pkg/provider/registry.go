package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// DefaultRegion and DefaultAccount are the fixed region/account every
// emulated ARN is minted under.
const (
	DefaultRegion  = "us-east-1"
	DefaultAccount = "000000000000"
)

// ResourceKey identifies an emulated resource as (service, name).
type ResourceKey struct {
	Service string
	Name    string
}

func (k ResourceKey) String() string {
	return k.Service + "/" + k.Name
}

// Attributes are the optional per-resource attributes held in the registry
// next to the owning provider (endpoint URL, generated identifier, tags).
type Attributes struct {
	Endpoint string
	ID       string
	Tags     map[string]string
}

// Registry maps (service, name) to the provider owning that resource, plus
// attributes. It is read-mostly; register/deregister take the write lock.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	resources map[ResourceKey]Attributes
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		resources: make(map[ResourceKey]Attributes),
	}
}

// RegisterProvider binds a service identifier to its provider. Fails if the
// service is already registered.
func (r *Registry) RegisterProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Service()]; ok {
		return fmt.Errorf("provider already registered: %s", p.Service())
	}
	r.providers[p.Service()] = p
	return nil
}

// Provider returns the provider owning a service, or nil.
func (r *Registry) Provider(service string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[service]
}

// Providers returns all registered providers in service-name order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		out = append(out, r.providers[name])
	}
	return out
}

// PutResource records or replaces a resource's attributes.
func (r *Registry) PutResource(key ResourceKey, attrs Attributes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[key] = attrs
}

// Resource looks up a resource's attributes.
func (r *Registry) Resource(key ResourceKey) (Attributes, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attrs, ok := r.resources[key]
	return attrs, ok
}

// DeleteResource removes a resource entry. Missing entries are a no-op.
func (r *Registry) DeleteResource(key ResourceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resources, key)
}

// ResourcesOf lists the resource names registered under one service, sorted.
func (r *Registry) ResourcesOf(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for key := range r.resources {
		if key.Service == service {
			names = append(names, key.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ARN builds the canonical ARN for a resource under the emulator's fixed
// region and account.
func ARN(service, resource string) string {
	return arn.ARN{
		Partition: "aws",
		Service:   service,
		Region:    DefaultRegion,
		AccountID: DefaultAccount,
		Resource:  resource,
	}.String()
}

// ParseARN parses an ARN string and returns (service, resource).
func ParseARN(s string) (service, resource string, err error) {
	parsed, err := arn.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid arn %q: %w", s, err)
	}
	return parsed.Service, parsed.Resource, nil
}
