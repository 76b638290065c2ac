package provider

import (
	"context"
	"strings"
	"testing"
)

type fakeProvider struct {
	service string
}

func (f *fakeProvider) Service() string                   { return f.service }
func (f *fakeProvider) Start(ctx context.Context) error   { return nil }
func (f *fakeProvider) Stop(ctx context.Context) error    { return nil }
func (f *fakeProvider) Healthy(ctx context.Context) error { return nil }

func TestRegistryRegisterProvider(t *testing.T) {
	reg := NewRegistry()

	if err := reg.RegisterProvider(&fakeProvider{service: ServiceQueue}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.RegisterProvider(&fakeProvider{service: ServiceQueue}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	if got := reg.Provider(ServiceQueue); got == nil {
		t.Fatal("provider not found after register")
	}
	if got := reg.Provider(ServicePubSub); got != nil {
		t.Fatal("unregistered service should resolve to nil")
	}
}

func TestRegistryProvidersSorted(t *testing.T) {
	reg := NewRegistry()
	for _, svc := range []string{ServiceWorkflow, ServiceObjectStore, ServiceCompute} {
		if err := reg.RegisterProvider(&fakeProvider{service: svc}); err != nil {
			t.Fatalf("register %s: %v", svc, err)
		}
	}

	var got []string
	for _, p := range reg.Providers() {
		got = append(got, p.Service())
	}

	want := []string{ServiceCompute, ServiceObjectStore, ServiceWorkflow}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providers not sorted: got %v, want %v", got, want)
		}
	}
}

func TestRegistryResources(t *testing.T) {
	reg := NewRegistry()
	key := ResourceKey{Service: ServiceQueue, Name: "orders"}

	if _, ok := reg.Resource(key); ok {
		t.Fatal("resource should not exist before put")
	}

	reg.PutResource(key, Attributes{Endpoint: "http://localhost:4566/orders"})

	attrs, ok := reg.Resource(key)
	if !ok {
		t.Fatal("resource missing after put")
	}
	if attrs.Endpoint != "http://localhost:4566/orders" {
		t.Fatalf("unexpected endpoint: %s", attrs.Endpoint)
	}

	reg.PutResource(ResourceKey{Service: ServiceQueue, Name: "audit"}, Attributes{})
	reg.PutResource(ResourceKey{Service: ServicePubSub, Name: "alerts"}, Attributes{})

	names := reg.ResourcesOf(ServiceQueue)
	if len(names) != 2 || names[0] != "audit" || names[1] != "orders" {
		t.Fatalf("unexpected queue resources: %v", names)
	}

	reg.DeleteResource(key)
	if _, ok := reg.Resource(key); ok {
		t.Fatal("resource should be gone after delete")
	}
}

func TestARNRoundTrip(t *testing.T) {
	s := ARN(ServiceWorkflow, "stateMachine:orders")
	if !strings.HasPrefix(s, "arn:aws:states:us-east-1:000000000000:") {
		t.Fatalf("unexpected arn prefix: %s", s)
	}

	service, resource, err := ParseARN(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if service != ServiceWorkflow || resource != "stateMachine:orders" {
		t.Fatalf("round trip mismatch: %s %s", service, resource)
	}

	if _, _, err := ParseARN("not-an-arn"); err == nil {
		t.Fatal("expected parse error")
	}
}
