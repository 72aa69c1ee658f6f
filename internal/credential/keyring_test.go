package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	if _, err := s.Get(KeyLLMAPIKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store err = %v, want ErrNotFound", err)
	}

	if err := s.Set(KeyLLMAPIKey, "sk-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(KeyLLMAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("Get = %q, want sk-secret", got)
	}

	if err := s.Delete(KeyLLMAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(KeyLLMAPIKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{KeyIMAPPassword, KeySMTPPassword, KeyLLMAPIKey} {
		if !ValidKey(k) {
			t.Errorf("ValidKey(%q) = false", k)
		}
	}
	for _, k := range []string{"", "imap.username", "password"} {
		if ValidKey(k) {
			t.Errorf("ValidKey(%q) = true", k)
		}
	}
}
