package identity

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)

	ctx := context.Background()
	user, err := svc.Register(ctx, Credentials{Phone: "+237650000000", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if user.Tier != tierZero {
		t.Fatalf("expected tier0, got %s", user.Tier)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.Tier != tierOne {
		t.Fatalf("expected promotion to tier1, got %s", authed.Tier)
	}
}

func TestAuthenticateDeviceMismatch(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-2"}); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected device mismatch error, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPIN(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "12"}); !errors.Is(err, ErrWeakPIN) {
		t.Fatalf("expected weak PIN error, got %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "1234"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "9999"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestVerifyPIN(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	user, err := svc.Register(ctx, Credentials{Phone: "555", PIN: "4321", DeviceID: "d"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.VerifyPIN(ctx, user.ID, "4321"); err != nil {
		t.Fatalf("correct PIN rejected: %v", err)
	}
	if err := svc.VerifyPIN(ctx, user.ID, "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected invalid PIN, got %v", err)
	}
	if err := svc.VerifyPIN(ctx, user.ID, ""); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected invalid PIN for empty input, got %v", err)
	}
	if err := svc.VerifyPIN(ctx, "nobody", "4321"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
