package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/google/uuid"
	"github.com/jghoshh/goalnudge/backend/models"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"github.com/jghoshh/goalnudge/lib/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	accessTokenType  = "access"
	refreshTokenType = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("authentication failed")
	ErrInvalidInput       = errors.New("invalid sign up details")
	ErrAccountExists      = errors.New("an account with this email or username already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
)

// Tokens is the pair handed to a client after signing in.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticator signs users up and in and issues HS256 tokens. Refresh
// tokens are also stored so that signing out revokes them.
type Authenticator struct {
	store      storage.StorageInterface
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Authenticator)

// WithTTLs overrides the access and refresh token lifetimes.
func WithTTLs(access, refresh time.Duration) Option {
	return func(a *Authenticator) {
		if access > 0 {
			a.accessTTL = access
		}
		if refresh > 0 {
			a.refreshTTL = refresh
		}
	}
}

func NewAuthenticator(store storage.StorageInterface, signingKey string, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:      store,
		signingKey: []byte(signingKey),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SignUp creates an account with notifications enabled and signs it in.
func (a *Authenticator) SignUp(ctx context.Context, email, username, password string) (*Tokens, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if !utils.ValidateUsername(username) {
		return nil, nil, fmt.Errorf("%w: username must be at least 2 characters", ErrInvalidInput)
	}
	if !utils.ValidateEmail(email) {
		return nil, nil, fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	if !utils.ValidatePassword(password) {
		return nil, nil, fmt.Errorf("%w: password must be at least 8 characters and contain both letters and numbers", ErrInvalidInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	user := &models.User{
		Username:             username,
		Email:                email,
		PasswordHash:         string(hashedPassword),
		NotificationsEnabled: true,
		CreatedAt:            a.now(),
	}
	user, err = a.store.AddUser(ctx, user)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, nil, ErrAccountExists
	}
	if err != nil {
		return nil, nil, fmt.Errorf("add user: %w", err)
	}

	tokens, err := a.issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return tokens, user, nil
}

// SignIn checks the email and password and issues a fresh token pair.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Tokens, error) {
	user, err := a.store.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.issue(ctx, user.ID)
}

// SignOut revokes every refresh token of the user.
func (a *Authenticator) SignOut(ctx context.Context, userID primitive.ObjectID) error {
	if _, err := a.store.DeleteRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new pair. The
// old refresh token stops working.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	userID, err := a.parse(refreshToken, refreshTokenType)
	if err != nil {
		return nil, err
	}

	stored, err := a.store.FindRefreshToken(ctx, refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if stored.UserID != userID {
		return nil, ErrInvalidToken
	}
	if stored.Expiry.Before(a.now()) {
		return nil, ErrExpiredToken
	}

	if _, err := a.store.DeleteRefreshTokens(ctx, userID); err != nil {
		return nil, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return a.issue(ctx, userID)
}

// ParseAccessToken validates an access token and returns its user id.
func (a *Authenticator) ParseAccessToken(token string) (primitive.ObjectID, error) {
	return a.parse(token, accessTokenType)
}

func (a *Authenticator) issue(ctx context.Context, userID primitive.ObjectID) (*Tokens, error) {
	now := a.now()
	access, err := a.sign(userID, accessTokenType, now.Add(a.accessTTL))
	if err != nil {
		return nil, errors.New("failed to create auth token")
	}
	refreshExpiry := now.Add(a.refreshTTL)
	refresh, err := a.sign(userID, refreshTokenType, refreshExpiry)
	if err != nil {
		return nil, errors.New("failed to create refresh token")
	}

	_, err = a.store.AddRefreshToken(ctx, &models.RefreshToken{UserID: userID, Token: refresh, Expiry: refreshExpiry})
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (a *Authenticator) sign(userID primitive.ObjectID, tokenType string, expiry time.Time) (string, error) {
	claims := jwt.MapClaims{
		"id":  userID.Hex(),
		"typ": tokenType,
		"jti": uuid.NewString(),
		"exp": expiry.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

func (a *Authenticator) parse(tokenString, tokenType string) (primitive.ObjectID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return primitive.NilObjectID, ErrExpiredToken
		}
		return primitive.NilObjectID, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid || claims["typ"] != tokenType {
		return primitive.NilObjectID, ErrInvalidToken
	}
	id, _ := claims["id"].(string)
	userID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidToken
	}
	return userID, nil
}
