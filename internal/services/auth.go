package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"vibecards-backend/internal/middleware"
	"vibecards-backend/internal/models"
	"vibecards-backend/internal/repository"
)

const (
	otpAlphabet        = "0123456789"
	otpLength          = 6
	otpMaxAttempts     = 3
	otpTTL             = 5 * time.Minute
	passwordResetTTL   = time.Hour
	otpResendInterval  = 60 * time.Second
	refreshTokenTTL    = 7 * 24 * time.Hour
	accessTokenSeconds = 900
	bcryptCost         = 12
)

// UserStore persists accounts. Implementations: repository.UserRepo (pgx)
// and repository.GormUserRepo.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type OTPMailer interface {
	SendOTP(to, otpType, code string) error
}

type AuthService struct {
	users  UserStore
	redis  redis.Cmdable
	jwt    *middleware.JWTAuth
	mailer OTPMailer
	logger *zap.Logger
}

func NewAuthService(users UserStore, redisClient redis.Cmdable, jwt *middleware.JWTAuth, mailer OTPMailer, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:  users,
		redis:  redisClient,
		jwt:    jwt,
		mailer: mailer,
		logger: logger.Named("auth"),
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var otpTypes = map[string]time.Duration{
	models.OTPTypeSignIn:            otpTTL,
	models.OTPTypeEmailVerification: otpTTL,
	models.OTPTypeForgetPassword:    passwordResetTTL,
}

func validateSignUp(req models.SignUpRequest) map[string]string {
	fields := make(map[string]string)
	if utf8.RuneCountInString(strings.TrimSpace(req.Name)) < 3 {
		fields["name"] = "Name must be at least 3 characters long"
	}
	if !emailRegex.MatchString(strings.TrimSpace(req.Email)) {
		fields["email"] = "Invalid email address"
	}
	if err := validatePassword(req.Password); err != nil {
		fields["password"] = err.Error()
	}
	if req.Password != req.ConfirmPassword {
		fields["confirmPassword"] = "Passwords do not match"
	}
	return fields
}

func validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < 8 {
		return errors.New("Password must be at least 8 characters long")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an unverified account and emails a verification code.
func (s *AuthService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	if fields := validateSignUp(req); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        normalizeEmail(req.Email),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, &ConflictError{Message: "Email already in use"}
		}
		return nil, err
	}

	// the account exists either way; the user can ask for a new code
	if err := s.sendOTP(ctx, user.Email, models.OTPTypeEmailVerification); err != nil {
		s.logger.Error("failed to send verification code", zap.Error(err))
	}
	return user, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, req models.VerifyOTPRequest) (*models.AuthTokens, error) {
	email := normalizeEmail(req.Email)
	if err := s.checkOTP(ctx, email, models.OTPTypeEmailVerification, req.OTP); err != nil {
		return nil, err
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) SignIn(ctx context.Context, req models.SignInRequest) (*models.AuthTokens, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid email or password"}
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid email or password"}
	}

	if !user.EmailVerified {
		return nil, &ForbiddenError{Message: "Please verify your email before signing in."}
	}

	return s.issueTokens(ctx, user)
}

// RequestOTP emails a code of the given purpose. Unknown addresses get the
// same silent success as known ones.
func (s *AuthService) RequestOTP(ctx context.Context, req models.OTPRequest) error {
	if _, ok := otpTypes[req.Type]; !ok {
		return newValidationError("type", "type must be sign-in, email-verification, or forget-password")
	}

	email := normalizeEmail(req.Email)
	if !emailRegex.MatchString(email) {
		return newValidationError("email", "Invalid email address")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if req.Type == models.OTPTypeEmailVerification && user.EmailVerified {
		return &ConflictError{Message: "Email is already verified"}
	}

	return s.sendOTP(ctx, email, req.Type)
}

// SignInWithOTP exchanges a sign-in code for tokens. A valid code also proves
// ownership of the address, so an unverified account becomes verified.
func (s *AuthService) SignInWithOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.AuthTokens, error) {
	email := normalizeEmail(req.Email)
	if err := s.checkOTP(ctx, email, models.OTPTypeSignIn, req.OTP); err != nil {
		return nil, err
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.EmailVerified = true
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := validatePassword(req.Password); err != nil {
		return newValidationError("password", err.Error())
	}

	email := normalizeEmail(req.Email)
	if err := s.checkOTP(ctx, email, models.OTPTypeForgetPassword, req.OTP); err != nil {
		return err
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, user.ID, string(hash))
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	// GETDEL: a token can be exchanged once, even under concurrent requests
	userIDStr, err := s.redis.GetDel(ctx, "refresh:"+refreshToken).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &UnauthorizedError{Message: "Invalid or expired refresh token. Please log in again."}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &UnauthorizedError{Message: "Account no longer exists"}
	}
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) SignOut(ctx context.Context, refreshToken string) error {
	return s.redis.Del(ctx, "refresh:"+refreshToken).Err()
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Account not found"}
	}
	return user, err
}

func otpKey(otpType, email string) string {
	return "otp:" + otpType + ":" + email
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func generateOTP() (string, error) {
	return gonanoid.Generate(otpAlphabet, otpLength)
}

// sendOTP stores a fresh code for (otpType, email) and mails it. Requests for
// the same pair are limited to one per otpResendInterval.
func (s *AuthService) sendOTP(ctx context.Context, email, otpType string) error {
	limitKey := "otp_resend:" + otpType + ":" + email
	ok, err := s.redis.SetNX(ctx, limitKey, "1", otpResendInterval).Result()
	if err != nil {
		return fmt.Errorf("failed to check resend limit: %w", err)
	}
	if !ok {
		return &RateLimitError{Message: "Please wait 60 seconds before requesting another code"}
	}

	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	key := otpKey(otpType, email)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", hashOTP(code), "attempts", 0)
		pipe.Expire(ctx, key, otpTypes[otpType])
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	// the code stays valid; the user can ask for another one after the
	// resend interval
	if err := s.mailer.SendOTP(email, otpType, code); err != nil {
		s.logger.Error("failed to queue OTP email", zap.String("type", otpType), zap.Error(err))
	}
	return nil
}

// consumeOTPScript checks a code hash and, in one step, either consumes the
// code or counts the miss, dropping the code once the limit is reached.
// Returns 1 on match, 0 on a miss, -1 when the limit was hit and -2 when no
// code exists.
var consumeOTPScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'hash')
if not stored then
  return -2
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return -1
end
return 0
`)

// checkOTP consumes a matching code. Each wrong guess counts against the
// code, which is discarded after otpMaxAttempts failures.
func (s *AuthService) checkOTP(ctx context.Context, email, otpType, code string) error {
	res, err := consumeOTPScript.Run(ctx, s.redis,
		[]string{otpKey(otpType, email)},
		hashOTP(strings.TrimSpace(code)), otpMaxAttempts,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to check code: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return &UnauthorizedError{Message: "Too many attempts. Please request a new code."}
	default:
		return &UnauthorizedError{Message: "Invalid or expired code"}
	}
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*models.AuthTokens, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := generateToken(64)
	if err != nil {
		return nil, err
	}

	err = s.redis.Set(ctx, "refresh:"+refreshToken, user.ID.String(), refreshTokenTTL).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    accessTokenSeconds,
	}, nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
