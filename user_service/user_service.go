package user_service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexresearch/hexstody-sub000/model"
)

const (
	MinNameLen     = 3
	MaxNameLen     = 320
	MinPasswordLen = 6
	// bcrypt ignores everything past 72 bytes
	MaxPasswordLen = 72
)

// ----------------- 错误 -----------------
type ErrorKind int

const (
	NameTooShort ErrorKind = iota + 1
	NameTooLong
	PasswordTooShort
	PasswordTooLong
	InvalidEmail
	InvalidPhone
	InvalidCredentials
	MissingToken
	InvalidToken
	HashFailure
)

var subtypes = map[ErrorKind]string{
	NameTooShort:       "signup_name_too_short",
	NameTooLong:        "signup_name_too_long",
	PasswordTooShort:   "signup_password_too_short",
	PasswordTooLong:    "signup_password_too_long",
	InvalidEmail:       "invalid_email",
	InvalidPhone:       "invalid_phone",
	InvalidCredentials: "signin_failed",
	MissingToken:       "auth_required",
	InvalidToken:       "invalid_session",
	HashFailure:        "password_hash_failure",
}

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Subtype(), e.Err)
	}
	return e.Subtype()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Subtype() string { return subtypes[e.Kind] }

func (e *Error) Code() uint16 { return 4000 + uint16(e.Kind) }

func (e *Error) Status() int {
	switch e.Kind {
	case InvalidCredentials, MissingToken, InvalidToken:
		return http.StatusUnauthorized
	case HashFailure:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// ----------------- 注册校验 -----------------
var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

type SignupRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Invite   string  `json:"invite"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

func (r *SignupRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	switch n := utf8.RuneCountInString(r.Username); {
	case n < MinNameLen:
		return &Error{Kind: NameTooShort}
	case n > MaxNameLen:
		return &Error{Kind: NameTooLong}
	}
	switch n := len(r.Password); {
	case n < MinPasswordLen:
		return &Error{Kind: PasswordTooShort}
	case n > MaxPasswordLen:
		return &Error{Kind: PasswordTooLong}
	}
	if r.Email != nil {
		if err := ValidateEmail(*r.Email); err != nil {
			return err
		}
	}
	if r.Phone != nil {
		if err := ValidatePhone(*r.Phone); err != nil {
			return err
		}
	}
	return nil
}

func ValidateEmail(email string) error {
	a, err := mail.ParseAddress(email)
	if err != nil || a.Address != email {
		return &Error{Kind: InvalidEmail, Err: err}
	}
	return nil
}

func ValidatePhone(phone string) error {
	if !phoneRe.MatchString(phone) {
		return &Error{Kind: InvalidPhone}
	}
	return nil
}

// ----------------- 密码 -----------------
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", &Error{Kind: HashFailure, Err: err}
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ----------------- JWT -----------------

// TokenManager issues and verifies session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret []byte, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

func (t *TokenManager) Generate(user string) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"iss": t.issuer,
		"sub": user,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse returns the user of a valid token.
func (t *TokenManager) Parse(token string) (string, error) {
	if token == "" {
		return "", &Error{Kind: MissingToken}
	}
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", &Error{Kind: InvalidToken, Err: err}
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", &Error{Kind: InvalidToken, Err: err}
	}
	return sub, nil
}

// ----------------- 用户服务 -----------------

// Accounts is where users live, the wallet state.
type Accounts interface {
	Signup(ctx context.Context, user, invite string, auth model.AuthMaterial) error
	User(user string) (*model.UserInfo, error)
}

type Service struct {
	accounts Accounts
	tokens   *TokenManager
}

func NewService(accounts Accounts, tokens *TokenManager) *Service {
	return &Service{accounts: accounts, tokens: tokens}
}

func (s *Service) Tokens() *TokenManager { return s.tokens }

// Signup validates the request and registers the user with a bcrypt
// password hash. Contact fields are stored by the caller.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}
	auth := model.AuthMaterial{Kind: model.AuthPassword, PasswordHash: hash}
	return s.accounts.Signup(ctx, req.Username, req.Invite, auth)
}

// Signin checks the password and issues a session token.
func (s *Service) Signin(username, password string) (string, error) {
	u, err := s.accounts.User(strings.TrimSpace(username))
	if err != nil {
		var ue interface{ Status() int }
		if errors.As(err, &ue) && ue.Status() == http.StatusNotFound {
			return "", &Error{Kind: InvalidCredentials}
		}
		return "", err
	}
	if u.Auth.Kind != model.AuthPassword || !CheckPassword(u.Auth.PasswordHash, password) {
		return "", &Error{Kind: InvalidCredentials}
	}
	return s.tokens.Generate(u.UserID)
}
