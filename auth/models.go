package auth

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStylist  Role = "stylist"
	RoleAdmin    Role = "admin"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	// Balance is the pre-funded wallet balance used to pay bookings without
	// a gateway round-trip. Mutated only through ledger-backed debits/credits.
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
