package hash

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherHash(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{
			name:     "valid password",
			password: "SecurePass123!",
		},
		{
			name:     "minimum length password",
			password: "Pass123!",
		},
		{
			name:     "password too short",
			password: "short",
			wantErr:  ErrPasswordTooShort,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  ErrPasswordTooShort,
		},
		{
			name:     "password past bcrypt limit",
			password: strings.Repeat("a", MaxPasswordLength+1),
			wantErr:  ErrPasswordTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Hash() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("Hash() unexpected error = %v", err)
			}

			if hash == tt.password {
				t.Error("Hash() returned unhashed password")
			}

			cost, err := bcrypt.Cost([]byte(hash))
			if err != nil {
				t.Fatalf("Hash() produced invalid bcrypt hash: %v", err)
			}
			if cost != bcrypt.MinCost {
				t.Errorf("Hash() cost = %d, want %d", cost, bcrypt.MinCost)
			}
		})
	}
}

func TestNewHasherCostFallback(t *testing.T) {
	tests := []struct {
		cost int
		want int
	}{
		{cost: 0, want: DefaultCost},
		{cost: bcrypt.MaxCost + 1, want: DefaultCost},
		{cost: 10, want: 10},
	}

	for _, tt := range tests {
		if got := NewHasher(tt.cost).Cost(); got != tt.want {
			t.Errorf("NewHasher(%d).Cost() = %d, want %d", tt.cost, got, tt.want)
		}
	}
}

func TestHasherCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	password := "MySecurePassword123!"
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Failed to generate hash: %v", err)
	}

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "correct password", password: password},
		{name: "incorrect password", password: "WrongPassword", wantErr: ErrMismatch},
		{name: "empty password", password: "", wantErr: ErrMismatch},
		{name: "case sensitive", password: strings.ToUpper(password), wantErr: ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Compare(hash, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compare() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompareMalformedHash(t *testing.T) {
	err := Compare("not-a-bcrypt-hash", "whatever123")
	if err == nil || errors.Is(err, ErrMismatch) {
		t.Errorf("Compare() error = %v, want a hash format error", err)
	}
}

func BenchmarkHash(b *testing.B) {
	password := "BenchmarkPassword123!"

	for i := 0; i < b.N; i++ {
		if _, err := Hash(password); err != nil {
			b.Fatalf("Hash() error = %v", err)
		}
	}
}
