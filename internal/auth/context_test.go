package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: "u-1", Role: RoleAdmin})
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", got.UserID)
	}
	if got.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", got.Role, RoleAdmin)
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected false for missing AuthContext")
	}
	if UserID(context.Background()) != "" {
		t.Error("expected empty user id for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(WithAuth(context.Background(), AuthContext{Role: RoleAdmin})) {
		t.Error("expected IsAdmin = true for admin role")
	}
	if IsAdmin(WithAuth(context.Background(), AuthContext{Role: "member"})) {
		t.Error("expected IsAdmin = false for member role")
	}
	if IsAdmin(context.Background()) {
		t.Error("expected IsAdmin = false for missing context")
	}
}

func TestOwnership(t *testing.T) {
	tests := []struct {
		name  string
		ac    AuthContext
		owner string
		want  bool
	}{
		{"owner", AuthContext{UserID: "u1"}, "u1", true},
		{"other user", AuthContext{UserID: "u2"}, "u1", false},
		{"admin", AuthContext{UserID: "ops", Role: RoleAdmin}, "u1", true},
		{"anonymous", AuthContext{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ac.Owns(tt.owner); got != tt.want {
				t.Errorf("Owns(%q) = %v, want %v", tt.owner, got, tt.want)
			}
			if got := CanAccess(WithAuth(context.Background(), tt.ac), tt.owner); got != tt.want {
				t.Errorf("CanAccess(%q) = %v, want %v", tt.owner, got, tt.want)
			}
		})
	}
	if CanAccess(context.Background(), "") {
		t.Error("missing context should not own anything")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.GenerateToken("user-7", "member")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	ac, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ac.UserID != "user-7" || ac.Role != "member" {
		t.Errorf("auth context = %+v", ac)
	}
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, _ := NewJWTManager("one", time.Hour).GenerateToken("u", "")
	_, err := NewJWTManager("two", time.Hour).ValidateToken(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute)
	token, _ := m.GenerateToken("u", "")
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTRejectsGarbage(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	if _, err := m.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
