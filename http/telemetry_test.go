package http

import (
	"context"
	"testing"

	"github.com/originhttp/origin/test"
)

func TestNewTelemetryProvidersNoOpWithoutEndpoint(t *testing.T) {
	providers, shutdown, err := NewTelemetryProviders(context.Background(), TelemetryConfig{
		ServiceName:    "origin-test",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("NewTelemetryProviders: %v", err)
	}
	defer shutdown(context.Background())

	test.AssertTrue(t, true, providers.Logger != nil)
	test.AssertTrue(t, true, providers.InstanceID.String() != "")
}

func TestNewTelemetryProvidersAssignsDistinctInstanceIDs(t *testing.T) {
	a, shutdownA, err := NewTelemetryProviders(context.Background(), TelemetryConfig{ServiceName: "a"})
	if err != nil {
		t.Fatalf("NewTelemetryProviders: %v", err)
	}
	defer shutdownA(context.Background())

	b, shutdownB, err := NewTelemetryProviders(context.Background(), TelemetryConfig{ServiceName: "b"})
	if err != nil {
		t.Fatalf("NewTelemetryProviders: %v", err)
	}
	defer shutdownB(context.Background())

	test.AssertTrue(t, true, a.InstanceID.String() != b.InstanceID.String())
}
