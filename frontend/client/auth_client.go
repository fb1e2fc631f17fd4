package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/zalando/go-keyring"
)

// KeyringService is the name of the service in the system keyring where the
// access token and refresh token are stored.
const KeyringService = "GoalNudge"

const (
	accessKeyringKey  = "access_token"
	refreshKeyringKey = "refresh_token"

	// An access token closer than this to expiry is refreshed before use.
	refreshMargin = 30 * time.Second
)

var (
	ErrNotSignedIn    = errors.New("no user is currently signed in")
	ErrSessionExpired = errors.New("session expired, please sign in again")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// tokenResult is what the server returns from sign up, sign in and refresh.
type tokenResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user,omitempty"`
}

// Client talks to the goal API and keeps the session in the system keyring.
type Client struct {
	serverURL string
	http      *http.Client
	now       func() time.Time
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
	}
}

// send performs one JSON request. A non-2xx status is returned as *APIError.
func (c *Client) send(method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &errBody) != nil || errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	return json.Unmarshal(bodyBytes, out)
}

// authorized sends the request with a valid access token, refreshing it
// first when needed. A rejected session clears the keyring.
func (c *Client) authorized(method, path string, body, out interface{}) error {
	token, err := c.IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotSignedIn
	}

	err = c.send(method, path, token, body, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.ClearKeyring()
		return ErrSessionExpired
	}
	return err
}

// SignUp creates an account and signs it in, replacing any stored session.
func (c *Client) SignUp(email, username, password string) (*models.User, error) {
	var res tokenResult
	body := map[string]string{"email": email, "username": username, "password": password}
	if err := c.send(http.MethodPost, "/auth/signup", "", body, &res); err != nil {
		return nil, err
	}
	if err := c.saveTokens(res.AccessToken, res.RefreshToken); err != nil {
		return nil, err
	}
	return res.User, nil
}

// SignIn signs a user in with email and password.
func (c *Client) SignIn(email, password string) error {
	var res tokenResult
	body := map[string]string{"email": email, "password": password}
	if err := c.send(http.MethodPost, "/auth/signin", "", body, &res); err != nil {
		return err
	}
	return c.saveTokens(res.AccessToken, res.RefreshToken)
}

// SignOut revokes the session on the server and clears the keyring.
func (c *Client) SignOut() error {
	err := c.authorized(http.MethodPost, "/auth/signout", nil, nil)
	if errors.Is(err, ErrSessionExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.ClearKeyring()
}

// IsUserAuthenticated returns a usable access token, or "" when no user is
// signed in. An access token about to expire is refreshed first.
func (c *Client) IsUserAuthenticated() (string, error) {
	token, err := c.storedToken(accessKeyringKey)
	if err != nil || token == "" {
		return "", err
	}

	expiry, err := tokenExpiry(token)
	if err == nil && expiry.Sub(c.now()) > refreshMargin {
		return token, nil
	}
	return c.RefreshAccessToken()
}

// RefreshAccessToken exchanges the stored refresh token for a new pair.
func (c *Client) RefreshAccessToken() (string, error) {
	refreshToken, err := c.storedToken(refreshKeyringKey)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		c.ClearKeyring()
		return "", ErrSessionExpired
	}

	var res tokenResult
	err = c.send(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken}, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.ClearKeyring()
		return "", ErrSessionExpired
	}
	if err != nil {
		return "", err
	}
	if err := c.saveTokens(res.AccessToken, res.RefreshToken); err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// ClearKeyring removes both tokens from the system keyring.
func (c *Client) ClearKeyring() error {
	for _, key := range []string{accessKeyringKey, refreshKeyringKey} {
		if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return errors.New("failed to delete token from keyring: " + err.Error())
		}
	}
	return nil
}

func (c *Client) storedToken(key string) (string, error) {
	token, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.New("failed to access keyring: " + err.Error())
	}
	return token, nil
}

// saveTokens stores both tokens. If the second write fails the first is
// rolled back so the keyring never holds half a session.
func (c *Client) saveTokens(accessToken, refreshToken string) error {
	if err := keyring.Set(KeyringService, accessKeyringKey, accessToken); err != nil {
		return err
	}
	if err := keyring.Set(KeyringService, refreshKeyringKey, refreshToken); err != nil {
		keyring.Delete(KeyringService, accessKeyringKey)
		return err
	}
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// server is the one that verifies.
func tokenExpiry(tokenStr string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, err
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, errors.New("token has no expiry")
	}
	return time.Unix(int64(exp), 0), nil
}
