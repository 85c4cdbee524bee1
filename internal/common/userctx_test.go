package common

import (
	"context"
	"testing"
)

func TestUserContext_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// Absent by default
	if uc := UserContextFromContext(ctx); uc != nil {
		t.Error("Expected nil UserContext from empty context")
	}

	ctx = WithUserContext(ctx, &UserContext{UserID: 42, Username: "alice"})

	got := UserContextFromContext(ctx)
	if got == nil {
		t.Fatal("Expected non-nil UserContext")
	}
	if got.UserID != 42 {
		t.Errorf("Expected 42, got %d", got.UserID)
	}
	if got.Username != "alice" {
		t.Errorf("Expected alice, got %s", got.Username)
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("Expected no user id on empty context")
	}

	ctx := WithUserContext(context.Background(), &UserContext{})
	if _, ok := UserIDFromContext(ctx); ok {
		t.Error("Expected zero user id to be treated as absent")
	}

	ctx = WithUserContext(context.Background(), &UserContext{UserID: 7})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != 7 {
		t.Errorf("Expected (7, true), got (%d, %v)", id, ok)
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("Expected empty correlation id, got %q", got)
	}

	ctx = WithCorrelationID(ctx, "abc-123")
	if got := CorrelationIDFromContext(ctx); got != "abc-123" {
		t.Errorf("Expected abc-123, got %q", got)
	}
}
