package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", 24)

	req := RegisterRequest{
		Email:    "amara@example.com",
		Password: "supersafe",
		FullName: "Amara Client",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleCustomer {
		t.Fatalf("register: expected default role %s got %s", RoleCustomer, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
	if tokenRole != RoleCustomer {
		t.Fatalf("verify token: expected role %s got %s", RoleCustomer, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", 24)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amara@example.com",
		Password: "short",
		FullName: "Amara Client",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_RegisterRejectsAdminRole(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", 24)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "root@example.com",
		Password: "strongpassword",
		FullName: "Root",
		Role:     RoleAdmin,
	})
	if err == nil {
		t.Fatal("expected admin signup to be rejected")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", 24)

	req := RegisterRequest{
		Email:    "amara@example.com",
		Password: "strongpassword",
		FullName: "Amara Client",
		Role:     RoleStylist,
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", 24)

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleCustomer
	}

	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		Balance:      decimal.Zero,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return user.Balance, nil
}
