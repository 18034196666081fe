package kernel

import (
	"errors"
	"testing"

	"meadow/pkg/meadow"
)

func TestServiceRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	logger := struct{ name string }{name: "logger"}

	if err := registry.Register(meadow.ServiceLogger, logger); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	resolved, err := registry.Resolve(meadow.ServiceLogger)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved != any(logger) {
		t.Fatalf("resolved = %v, want %v", resolved, logger)
	}
}

func TestServiceRegistryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register("svc", 1); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := registry.Register("svc", 2)
	if !errors.Is(err, meadow.ErrServiceAlreadyRegistered) {
		t.Fatalf("error = %v, want ErrServiceAlreadyRegistered", err)
	}
}

func TestServiceRegistryResolveMissing(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	_, err := registry.Resolve("absent")
	if !errors.Is(err, meadow.ErrServiceNotFound) {
		t.Fatalf("error = %v, want ErrServiceNotFound", err)
	}
}

func TestServiceRegistryRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register("", 1); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := registry.Register("svc", nil); err == nil {
		t.Fatal("expected error for nil service")
	}
	if _, err := registry.Resolve(""); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestResolveAsTypeMismatch(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register("svc", "a string"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := meadow.ResolveAs[int](registry, "svc"); err == nil {
		t.Fatal("expected type mismatch error")
	}

	value, err := meadow.ResolveAs[string](registry, "svc")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if value != "a string" {
		t.Fatalf("value = %q, want %q", value, "a string")
	}
}
