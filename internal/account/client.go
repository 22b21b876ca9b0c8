// Package account drives the authentication endpoints: login, registration
// and OTP verification. Successful responses persist the JWT and profile and
// pick up the CSRF token the server supplies as a side channel.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/token"
	"github.com/starford/laguz/internal/transport"
)

// Auth endpoint paths.
const (
	LoginPath     = "/auth/login"
	RegisterPath  = "/auth/register"
	VerifyOTPPath = "/auth/verify-otp"
	ResendOTPPath = "/auth/resend-otp"
)

var reEmail = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate rejects malformed input before it reaches the network.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Match(reEmail)),
		validation.Field(&c.Password, validation.Required),
	)
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
}

// Validate rejects malformed input before it reaches the network.
func (r RegisterInput) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Match(reEmail)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
	); err != nil {
		return err
	}
	if r.Password != r.ConfirmPassword {
		return errors.New("passwords do not match")
	}
	return nil
}

// OTPInput is the one-time-code verification payload.
type OTPInput struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Validate rejects malformed input before it reaches the network.
func (o OTPInput) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Email, validation.Required, validation.Match(reEmail)),
		validation.Field(&o.Code, validation.Required, validation.Length(4, 8)),
	)
}

// Session is the outcome of a successful authentication.
type Session struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"user,omitempty"`
}

// authResponse mirrors the wire shape of every auth endpoint.
type authResponse struct {
	Token     string          `json:"token"`
	CSRFToken string          `json:"csrfToken,omitempty"`
	User      *models.Profile `json:"user,omitempty"`
}

// Client calls the auth endpoints and persists the resulting session state.
type Client struct {
	tr     transport.Transport
	cache  *cachestore.Store
	tokens *token.Manager
}

// NewClient creates an account client.
func NewClient(tr transport.Transport, cache *cachestore.Store, tokens *token.Manager) *Client {
	return &Client{tr: tr, cache: cache, tokens: tokens}
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("account: login: %v: %w", err, apperr.ErrValidation)
	}
	return c.authenticate(ctx, LoginPath, creds)
}

// Register creates a new account. Depending on backend configuration the
// session may require OTP verification before notes become accessible.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("account: register: %v: %w", err, apperr.ErrValidation)
	}
	return c.authenticate(ctx, RegisterPath, in)
}

// VerifyOTP confirms the one-time code sent on registration.
func (c *Client) VerifyOTP(ctx context.Context, in OTPInput) (*Session, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("account: verify otp: %v: %w", err, apperr.ErrValidation)
	}
	return c.authenticate(ctx, VerifyOTPPath, in)
}

// ResendOTP requests a fresh one-time code.
func (c *Client) ResendOTP(ctx context.Context, email string) error {
	in := struct {
		Email string `json:"email"`
	}{Email: email}
	if !reEmail.MatchString(email) {
		return fmt.Errorf("account: resend otp: invalid email: %w", apperr.ErrValidation)
	}
	_, err := c.tr.Execute(ctx, http.MethodPost, ResendOTPPath, in, nil)
	if err != nil {
		return c.classify("resend otp", err)
	}
	return nil
}

// Logout drops the persisted JWT and profile.
func (c *Client) Logout() error {
	return c.cache.ClearSession()
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*Session, error) {
	resp, err := c.tr.Execute(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return nil, c.classify(path, err)
	}

	var ar authResponse
	if err := resp.Decode(&ar); err != nil {
		return nil, err
	}
	if ar.Token != "" {
		if err := c.cache.SaveAuthToken(ar.Token); err != nil {
			return nil, err
		}
	}
	if ar.User != nil {
		if err := c.cache.SaveProfile(*ar.User); err != nil {
			return nil, err
		}
	}
	if err := c.tokens.SetCSRFToken(ar.CSRFToken); err != nil {
		return nil, err
	}
	return &Session{Token: ar.Token, Profile: ar.User}, nil
}

func (c *Client) classify(op string, err error) error {
	var se *transport.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("account: %s: %w", op, apperr.FromStatus(se.Status))
	}
	if transport.IsNetwork(err) {
		return fmt.Errorf("account: %s: %w", op, apperr.ErrOffline)
	}
	return fmt.Errorf("account: %s: %w", op, err)
}
