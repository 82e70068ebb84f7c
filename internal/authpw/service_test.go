package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"alqefari/api/internal/store"
)

const profileID = "6f1c2d7e-3b7a-4f0e-9a51-0c4d8e2b9f10"

// mockAccountStore is a mock implementation of AccountStore for testing
type mockAccountStore struct {
	accounts map[string]store.Account // email -> account
	failWith error
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: map[string]store.Account{}}
}

func (m *mockAccountStore) GetAccountByEmail(ctx context.Context, email string) (store.Account, error) {
	if m.failWith != nil {
		return store.Account{}, m.failWith
	}
	if a, ok := m.accounts[strings.ToLower(email)]; ok {
		return a, nil
	}
	return store.Account{}, store.ErrNotFound
}

func (m *mockAccountStore) CreateAccount(ctx context.Context, a store.Account) error {
	m.accounts[a.Email] = a
	return nil
}

func newTestService(st AccountStore) *Service {
	svc := NewService(st)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockAccountStore()
	svc := newTestService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		account, err := svc.SignUp(ctx, SignUpRequest{
			Email:     " Saad@Example.com ",
			Password:  "password123",
			ProfileID: profileID,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if account.Email != "saad@example.com" {
			t.Errorf("expected normalized email, got %s", account.Email)
		}
		if account.PasswordHash == "password123" {
			t.Error("password must be hashed")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "saad@example.com", Password: "password123", ProfileID: profileID})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		cases := []SignUpRequest{
			{Email: "not-an-email", Password: "password123", ProfileID: profileID},
			{Email: "a@example.com", Password: "short", ProfileID: profileID},
			{Email: "a@example.com", Password: "password123", ProfileID: "nope"},
		}
		for _, req := range cases {
			if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput for %+v, got %v", req, err)
			}
		}
	})

	t.Run("store failure", func(t *testing.T) {
		broken := newMockAccountStore()
		broken.failWith = errors.New("db down")
		_, err := newTestService(broken).SignUp(ctx, SignUpRequest{Email: "b@example.com", Password: "password123", ProfileID: profileID})
		if err == nil || errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected infrastructure error, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockAccountStore())

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123", ProfileID: profileID}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		account, err := svc.SignIn(ctx, SignInRequest{Email: "TEST@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if account.ProfileID != profileID {
			t.Errorf("expected profile %s, got %s", profileID, account.ProfileID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "wrongpassword"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "nonexistent@example.com", Password: "password123"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("missing password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
