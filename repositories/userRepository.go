package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProfileUpdate carries the editable profile fields of a user.
type ProfileUpdate struct {
	DisplayName   string
	Email         string
	Specialty     string
	LicenseNumber string
	Phone         string
}

type UserRepository interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetCredentials(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	RoleIDByName(ctx context.Context, name string) (int64, error)
	UpdateUserPassword(ctx context.Context, userID string, hashedPassword string) error
	UpdateUserProfile(ctx context.Context, userID string, update ProfileUpdate) error
	UpdateUserRole(ctx context.Context, userID string, roleID int64) error
	SetUserActive(ctx context.Context, userID string, active bool) error
	GetAllUsers(ctx context.Context) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

type userRepository struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewUserRepository(db *gorm.DB, cache cache.Cache, log logrus.FieldLogger) UserRepository {
	return &userRepository{db: db, cache: cache, log: log.WithField("repository", "user")}
}

const userColumns = "id, display_name, email, role_id, active, specialty, license_number, phone, created_at, updated_at"

func withRole(db *gorm.DB) *gorm.DB {
	return db.Select("id, name, description")
}

func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var user models.User
	err := r.db.WithContext(ctx).Select(userColumns).
		Preload("Role", withRole).
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	cacheKey := userCacheKey(userID)
	var cached models.User
	if readCached(ctx, r.cache, r.log, cacheKey, &cached) {
		return &cached, nil
	}

	var user models.User
	err := r.db.WithContext(ctx).Select(userColumns).
		Preload("Role", withRole).
		First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	writeCached(ctx, r.cache, r.log, cacheKey, user)
	return &user, nil
}

// GetCredentials loads the user including the password hash. Never cached.
func (r *userRepository) GetCredentials(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Role", withRole).
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &user, nil
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Omit("Role").Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) RoleIDByName(ctx context.Context, name string) (int64, error) {
	var role models.Role
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, name)
		}
		return 0, fmt.Errorf("failed to validate role: %w", err)
	}
	return role.ID, nil
}

func (r *userRepository) UpdateUserPassword(ctx context.Context, userID string, hashedPassword string) error {
	return r.update(ctx, userID, map[string]interface{}{"password": hashedPassword})
}

func (r *userRepository) UpdateUserProfile(ctx context.Context, userID string, u ProfileUpdate) error {
	return r.update(ctx, userID, map[string]interface{}{
		"display_name":   u.DisplayName,
		"email":          u.Email,
		"specialty":      u.Specialty,
		"license_number": u.LicenseNumber,
		"phone":          u.Phone,
	})
}

func (r *userRepository) UpdateUserRole(ctx context.Context, userID string, roleID int64) error {
	return r.update(ctx, userID, map[string]interface{}{"role_id": roleID})
}

func (r *userRepository) SetUserActive(ctx context.Context, userID string, active bool) error {
	return r.update(ctx, userID, map[string]interface{}{"active": active})
}

func (r *userRepository) update(ctx context.Context, userID string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	invalidate(ctx, r.cache, r.log, userCacheKey(userID))
	return nil
}

func (r *userRepository) GetAllUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var users []models.User
	err := r.db.WithContext(ctx).Select(userColumns).
		Preload("Role", withRole).
		Order("display_name ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *userRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func userCacheKey(userID string) string {
	return fmt.Sprintf("user_cache:%s", userID)
}
