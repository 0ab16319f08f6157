package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginInvalidated   = errors.New("login was replaced by a newer one")
	ErrCandidateNotFound  = errors.New("candidate not found")
)

// Claims extends JWT standard claims with the caller's identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID int        `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Caller returns the trusted identity carried by the token.
func (c *Claims) Caller() model.Caller {
	return model.Caller{UserID: c.UserID, Role: c.Role}
}

// AuthService handles login, JWT issuance and the candidate single-device rule.
type AuthService struct {
	cfg   *config.Config
	users UserStore
	rdb   *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, users UserStore, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, users: users, rdb: rdb}
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login verifies credentials and issues a token. A candidate login replaces
// any earlier candidate login for the same account.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	token, err := s.GenerateToken(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, User: *user}, nil
}

// GenerateToken signs a JWT for the user. For candidates the token id is
// stored in Redis so only the latest login stays valid.
func (s *AuthService) GenerateToken(ctx context.Context, userID int, role model.Role) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if role == model.RoleCandidate {
		if err := s.rdb.Set(ctx, config.CacheKey.CandidateLoginKey(userID), jti, s.cfg.JWTExpiry).Err(); err != nil {
			return "", fmt.Errorf("store login: %w", err)
		}
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Role != model.RoleCandidate && claims.Role != model.RoleAdmin {
		return nil, errors.New("unknown role")
	}
	return claims, nil
}

// ValidateCandidateLogin checks that the token id is the candidate's latest login.
func (s *AuthService) ValidateCandidateLogin(ctx context.Context, userID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.CandidateLoginKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrLoginInvalidated
		}
		return fmt.Errorf("check login: %w", err)
	}
	if stored != jti {
		return ErrLoginInvalidated
	}
	return nil
}

// Logout drops the candidate's stored login.
func (s *AuthService) Logout(ctx context.Context, userID int) error {
	return s.rdb.Del(ctx, config.CacheKey.CandidateLoginKey(userID)).Err()
}

// Me returns the account behind a token.
func (s *AuthService) Me(ctx context.Context, userID int) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// LookupCandidate returns the candidate account with the given id.
func (s *AuthService) LookupCandidate(ctx context.Context, userID int) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCandidateNotFound
		}
		return nil, err
	}
	if user.Role != model.RoleCandidate {
		return nil, ErrCandidateNotFound
	}
	return user, nil
}
