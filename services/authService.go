package services

import (
	"RetinaTrack/cache"
	"RetinaTrack/config"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/utils"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewUserInput is what an admin supplies to open an account.
type NewUserInput struct {
	DisplayName   string
	Email         string
	Password      string
	Role          string
	Specialty     string
	LicenseNumber string
	Phone         string
}

type UserService interface {
	CreateUser(ctx context.Context, auth models.AuthContext, in NewUserInput) (*models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetAllUsers(ctx context.Context, auth models.AuthContext) ([]models.User, error)
	UpdateUserProfile(ctx context.Context, userID string, update repositories.ProfileUpdate) error
	ChangeRole(ctx context.Context, auth models.AuthContext, userID, role string) error
	SetActive(ctx context.Context, auth models.AuthContext, userID string, active bool) error
	SendResetCode(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	EnsureBootstrapAdmin(ctx context.Context, cfg config.AuthConfig) error
}

type userService struct {
	userRepo repositories.UserRepository
	cache    cache.Cache
	codes    *utils.ResetCodes
	mailer   utils.Mailer
	log      logrus.FieldLogger
}

func NewUserService(userRepo repositories.UserRepository, c cache.Cache, codes *utils.ResetCodes, mailer utils.Mailer, log logrus.FieldLogger) UserService {
	return &userService{
		userRepo: userRepo,
		cache:    c,
		codes:    codes,
		mailer:   mailer,
		log:      log.WithField("service", "user"),
	}
}

func (s *userService) CreateUser(ctx context.Context, auth models.AuthContext, in NewUserInput) (*models.User, error) {
	if !auth.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if in.Role == "" {
		in.Role = models.RoleMedico
	}
	return s.createUser(ctx, in)
}

func (s *userService) createUser(ctx context.Context, in NewUserInput) (*models.User, error) {
	user := models.User{
		DisplayName:   strings.TrimSpace(in.DisplayName),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		Password:      in.Password,
		RoleName:      in.Role,
		Active:        true,
		Specialty:     in.Specialty,
		LicenseNumber: in.LicenseNumber,
		Phone:         in.Phone,
	}
	if err := utils.ValidateUserData(user); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	lockKey := fmt.Sprintf("user_lock:%s", user.Email)
	err := cache.WithLock(ctx, s.cache, s.log, lockKey, cache.DefaultLockOptions, func() error {
		exists, err := s.userRepo.EmailExists(ctx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("email %s: %w", user.Email, models.ErrDuplicate)
		}
		roleID, err := s.userRepo.RoleIDByName(ctx, user.RoleName)
		if err != nil {
			return err
		}
		user.RoleID = roleID

		hashed, err := utils.HashPassword(user.Password)
		if err != nil {
			return err
		}
		user.Password = hashed
		return s.userRepo.CreateUser(ctx, &user)
	})
	if err != nil {
		return nil, err
	}
	user.Password = ""
	return &user, nil
}

// AuthenticateUser checks the credentials of an active account.
func (s *userService) AuthenticateUser(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.userRepo.GetCredentials(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(user.Password, password) {
		return nil, models.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, models.ErrInactiveUser
	}
	user.Password = ""
	return user, nil
}

func (s *userService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *userService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.userRepo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *userService) GetAllUsers(ctx context.Context, auth models.AuthContext) ([]models.User, error) {
	if !auth.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.userRepo.GetAllUsers(ctx)
}

func (s *userService) UpdateUserProfile(ctx context.Context, userID string, update repositories.ProfileUpdate) error {
	update.Email = strings.ToLower(strings.TrimSpace(update.Email))
	if err := utils.ValidateProfile(update.DisplayName, update.Email, update.Phone); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	lockKey := fmt.Sprintf("user_lock:%s", userID)
	return cache.WithLock(ctx, s.cache, s.log, lockKey, cache.DefaultLockOptions, func() error {
		current, err := s.userRepo.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		if current.Email != update.Email {
			exists, err := s.userRepo.EmailExists(ctx, update.Email)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("email %s: %w", update.Email, models.ErrDuplicate)
			}
		}
		return s.userRepo.UpdateUserProfile(ctx, userID, update)
	})
}

// ChangeRole is admin only. Admins cannot demote themselves so the system
// always keeps one.
func (s *userService) ChangeRole(ctx context.Context, auth models.AuthContext, userID, role string) error {
	if !auth.IsAdmin() {
		return models.ErrForbidden
	}
	if userID == auth.UID && role != models.RoleAdmin {
		return fmt.Errorf("%w: admins cannot change their own role", models.ErrInvalidInput)
	}
	roleID, err := s.userRepo.RoleIDByName(ctx, role)
	if err != nil {
		return err
	}
	return s.userRepo.UpdateUserRole(ctx, userID, roleID)
}

// SetActive enables or disables an account. Admins cannot disable themselves.
func (s *userService) SetActive(ctx context.Context, auth models.AuthContext, userID string, active bool) error {
	if !auth.IsAdmin() {
		return models.ErrForbidden
	}
	if userID == auth.UID && !active {
		return fmt.Errorf("%w: admins cannot deactivate themselves", models.ErrInvalidInput)
	}
	return s.userRepo.SetUserActive(ctx, userID, active)
}

// SendResetCode stores and emails a reset code. Unknown emails are ignored
// so the endpoint does not reveal which accounts exist.
func (s *userService) SendResetCode(ctx context.Context, email string) error {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || !user.Active {
		s.log.WithField("email", email).Info("reset code requested for unknown or inactive account")
		return nil
	}
	code, err := s.codes.Generate()
	if err != nil {
		return err
	}
	if err := s.codes.Set(ctx, user.Email, code); err != nil {
		return fmt.Errorf("failed to set reset code: %w", err)
	}
	if err := s.mailer.SendResetCode(user.Email, code); err != nil {
		return fmt.Errorf("failed to send reset code email: %w", err)
	}
	return nil
}

func (s *userService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := utils.ValidatePasswordReset(code, newPassword); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	ok, err := s.codes.Verify(ctx, email, code)
	if err != nil {
		return err
	}
	if !ok {
		return utils.ErrInvalidResetCode
	}

	user, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return utils.ErrInvalidResetCode
	}
	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdateUserPassword(ctx, user.ID, hashed); err != nil {
		return err
	}
	if err := s.codes.Delete(ctx, email); err != nil {
		s.log.WithError(err).Warn("failed to delete used reset code")
	}
	return nil
}

// EnsureBootstrapAdmin creates the configured admin when no user exists yet.
func (s *userService) EnsureBootstrapAdmin(ctx context.Context, cfg config.AuthConfig) error {
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}
	n, err := s.userRepo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.createUser(ctx, NewUserInput{
		DisplayName: cfg.BootstrapName,
		Email:       cfg.BootstrapEmail,
		Password:    cfg.BootstrapPassword,
		Role:        models.RoleAdmin,
	})
	if err != nil && !errors.Is(err, models.ErrDuplicate) {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	s.log.WithField("email", cfg.BootstrapEmail).Info("bootstrap admin ready")
	return nil
}
