package repo

import (
	"context"
	"testing"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

func TestGetUser_FoundAndMissing(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	if err := db.Create(&domain.User{ID: "u1", Name: "Alice"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	u, err := GetUser(context.Background(), db, "u1")
	if err != nil || u.Name != "Alice" {
		t.Fatalf("get: u=%+v err=%v", u, err)
	}

	if _, err := GetUser(context.Background(), db, "missing"); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestGetPushTarget_DefaultsProvider(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	tok := "ExponentPushToken[abc]"
	if err := db.Create(&domain.User{ID: "u1", Name: "Alice", PushToken: &tok, PushProvider: ""}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, provider, err := GetPushTarget(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if token == nil || *token != tok {
		t.Fatalf("unexpected token: %v", token)
	}
	if provider != domain.PushProviderExpo {
		t.Fatalf("empty provider must default to expo, got %q", provider)
	}
}

func TestGetPushTarget_NoToken(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	if err := db.Create(&domain.User{ID: "u1", Name: "Bob", PushProvider: domain.PushProviderFCM}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, provider, err := GetPushTarget(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if token != nil || provider != domain.PushProviderFCM {
		t.Fatalf("expected nil token with fcm provider, got token=%v provider=%q", token, provider)
	}
}

func TestSetPushToken_StoreAndClear(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	if err := db.Create(&domain.User{ID: "u1", Name: "Alice"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	tok := "fcm-token"
	if err := SetPushToken(context.Background(), db, "u1", &tok, domain.PushProviderFCM); err != nil {
		t.Fatalf("set: %v", err)
	}
	token, provider, err := GetPushTarget(context.Background(), db, "u1")
	if err != nil || token == nil || *token != tok || provider != domain.PushProviderFCM {
		t.Fatalf("after set: token=%v provider=%q err=%v", token, provider, err)
	}

	if err := SetPushToken(context.Background(), db, "u1", nil, domain.PushProviderExpo); err != nil {
		t.Fatalf("clear: %v", err)
	}
	token, _, err = GetPushTarget(context.Background(), db, "u1")
	if err != nil || token != nil {
		t.Fatalf("after clear: token=%v err=%v", token, err)
	}
}
