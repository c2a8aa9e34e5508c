package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"boatmarket/internal/config"
	"boatmarket/internal/ids"
	"boatmarket/internal/models"
	"boatmarket/internal/repository"
	"boatmarket/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

const minPasswordLen = 8

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash []byte) error
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error
	FindByRefreshHash(ctx context.Context, userID string, refreshHash []byte) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByDevice(ctx context.Context, userID string, deviceID string) error
}

type AuthService struct {
	users    UserStore
	sessions SessionStore
	cfg      config.SecurityConfig
	log      zerolog.Logger
}

func NewAuthService(users UserStore, sessions SessionStore, cfg config.SecurityConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	DeviceName  string
	IPAddress   string
	UserAgent   string
}

type LoginInput struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

type RefreshInput struct {
	UserID       string
	RefreshToken string
	DeviceID     string
}

type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         models.User
	DeviceID     string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return AuthResult{}, invalid("email", "invalid address")
	}
	if len(in.Password) < minPasswordLen {
		return AuthResult{}, invalid("password", "at least 8 characters")
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, err
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return AuthResult{}, err
	}

	return s.startSession(ctx, user, ids.New(), orDefault(in.DeviceName, "New Device"), in.IPAddress, in.UserAgent)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(strings.ToLower(in.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}
	if !user.Active() {
		return AuthResult{}, ErrUserSuspended
	}

	deviceID := in.DeviceID
	if deviceID == "" {
		deviceID = ids.New()
	}
	return s.startSession(ctx, user, deviceID, orDefault(in.DeviceName, "Unknown Device"), in.IPAddress, in.UserAgent)
}

// Refresh rotates the refresh token of the caller's device session.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (AuthResult, error) {
	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}
	if !user.Active() {
		return AuthResult{}, ErrUserSuspended
	}

	session, err := s.sessions.FindByRefreshHash(ctx, in.UserID, security.HashRefreshToken(in.RefreshToken))
	if err != nil || session.DeviceID != in.DeviceID {
		return AuthResult{}, ErrInvalidCredentials
	}
	if session.ExpiresAt.Before(time.Now()) {
		_ = s.sessions.DeleteByID(ctx, session.ID)
		return AuthResult{}, ErrInvalidCredentials
	}

	refreshToken, refreshHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}
	session.RefreshTokenHash = refreshHash
	session.ExpiresAt = time.Now().Add(s.cfg.JWTRefreshTTL)
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, err
	}

	accessToken, err := s.accessToken(user, session)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{AccessToken: accessToken, RefreshToken: refreshToken, User: user, DeviceID: session.DeviceID}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID string, deviceID string) error {
	return s.sessions.DeleteByDevice(ctx, userID, deviceID)
}

// ChangePassword replaces the caller's password after checking the current
// one. Existing sessions stay signed in.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" {
		return invalid("currentPassword", "required")
	}
	if len(next) < minPasswordLen {
		return invalid("newPassword", "at least 8 characters")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := security.VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrWrongPassword
	}

	hash, err := security.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("password changed")
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user models.User, deviceID, deviceName, ip, userAgent string) (AuthResult, error) {
	refreshToken, refreshHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}

	session := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		DeviceID:         deviceID,
		DeviceName:       deviceName,
		RefreshTokenHash: refreshHash,
		IPAddress:        ip,
		UserAgent:        userAgent,
		ExpiresAt:        time.Now().Add(s.cfg.JWTRefreshTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	accessToken, err := s.accessToken(user, session)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{AccessToken: accessToken, RefreshToken: refreshToken, User: user, DeviceID: deviceID}, nil
}

func (s *AuthService) accessToken(user models.User, session models.Session) (string, error) {
	return security.GenerateAccessToken(s.cfg.JWTAccessSecret, security.AccessClaimsInput{
		UserID:    user.ID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		Role:      string(user.Role),
	}, s.cfg.JWTAccessTTL)
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.cfg.MaxSessions {
		return nil
	}
	return s.sessions.DeleteOldestSessions(ctx, userID, s.cfg.MaxSessions)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
