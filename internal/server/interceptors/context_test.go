package interceptors

import (
	"context"
	"testing"
)

func TestWithIdentity_SetsAllValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{
		AccountID: "acc-1",
		SessionID: "sess-1",
		Role:      "admin",
	})

	accountID, ok := GetAccountID(ctx)
	if !ok {
		t.Fatal("GetAccountID should return true")
	}
	if accountID != "acc-1" {
		t.Errorf("account_id = %q, want %q", accountID, "acc-1")
	}

	sessionID, ok := GetSessionID(ctx)
	if !ok {
		t.Fatal("GetSessionID should return true")
	}
	if sessionID != "sess-1" {
		t.Errorf("session_id = %q, want %q", sessionID, "sess-1")
	}

	id, ok := GetIdentity(ctx)
	if !ok || id.Role != "admin" {
		t.Errorf("GetIdentity = %+v, %v", id, ok)
	}
}

func TestGetters_EmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetIdentity(ctx); ok {
		t.Error("GetIdentity should return false for empty context")
	}
	if _, ok := GetAccountID(ctx); ok {
		t.Error("GetAccountID should return false for empty context")
	}
	if _, ok := GetSessionID(ctx); ok {
		t.Error("GetSessionID should return false for empty context")
	}
}

func TestGetters_EmptyValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{})
	if _, ok := GetAccountID(ctx); ok {
		t.Error("GetAccountID should return false for empty account id")
	}
	if _, ok := GetSessionID(ctx); ok {
		t.Error("GetSessionID should return false for empty session id")
	}
}
