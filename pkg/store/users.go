package store

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mahaj/venue-support/pkg/db"
	"github.com/mahaj/venue-support/pkg/model"
)

type User struct {
	ID           int64
	Username     string
	Role         model.Role
	PasswordHash string
}

// CheckPassword compares password against the stored bcrypt hash.
func (u User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// NormalizeUsername is the key users are stored and looked up by.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Users struct {
	db *db.Session
}

func NewUsers(session *db.Session) *Users {
	return &Users{db: session}
}

// Create registers a user. The username row is claimed with a lightweight
// transaction so two concurrent creates cannot both win.
func (u *Users) Create(ctx context.Context, id int64, username, password string, role model.Role) (User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return User{}, fmt.Errorf("store: username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user := User{ID: id, Username: username, Role: role, PasswordHash: hash}

	applied, err := u.db.Query(`INSERT INTO users (username, id, password_hash, role) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		user.Username, user.ID, user.PasswordHash, string(user.Role)).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return User{}, fmt.Errorf("create user %s: %w", username, err)
	}
	if !applied {
		return User{}, fmt.Errorf("%w: %s", ErrExists, username)
	}

	if err := u.db.Query(`INSERT INTO users_by_id (id, username, role) VALUES (?, ?, ?)`,
		user.ID, user.Username, string(user.Role)).WithContext(ctx).Exec(); err != nil {
		return User{}, fmt.Errorf("index user %s: %w", username, err)
	}
	return user, nil
}

func (u *Users) ByUsername(ctx context.Context, username string) (User, error) {
	user := User{Username: NormalizeUsername(username)}
	var role string
	err := u.db.Query(`SELECT id, password_hash, role FROM users WHERE username = ?`, user.Username).
		WithContext(ctx).Scan(&user.ID, &user.PasswordHash, &role)
	if notFound(err) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %s: %w", user.Username, err)
	}
	user.Role = model.ParseRole(role)
	return user, nil
}

// ByID loads the public part of an account. PasswordHash is left empty.
func (u *Users) ByID(ctx context.Context, id int64) (User, error) {
	user := User{ID: id}
	var role string
	err := u.db.Query(`SELECT username, role FROM users_by_id WHERE id = ?`, id).
		WithContext(ctx).Scan(&user.Username, &role)
	if notFound(err) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	user.Role = model.ParseRole(role)
	return user, nil
}
