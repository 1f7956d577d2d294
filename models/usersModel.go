package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMedico = "medico"
)

// Role represents a user role
type Role struct {
	ID          int64     `gorm:"primaryKey;column:id" json:"id"`
	Name        string    `gorm:"size:50;not null;unique;index;column:name" json:"name"`
	Description string    `gorm:"type:text;column:description" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime;column:created_at" json:"created_at"`
}

func (Role) TableName() string {
	return "roles"
}

// SeedRoles inserts initial roles into the database
func SeedRoles(db *gorm.DB) error {
	initialRoles := []Role{
		{Name: RoleAdmin, Description: "Full access to patients, users and exports"},
		{Name: RoleMedico, Description: "Manages assigned patients, visits, images and annotations"},
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, role := range initialRoles {
			if err := tx.FirstOrCreate(&role, Role{Name: role.Name}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// User is the live, mutable account record. Clinical records never point at
// it directly; they carry an Author snapshot instead.
type User struct {
	ID            string    `gorm:"primaryKey;size:36;column:id" json:"uid"`
	DisplayName   string    `gorm:"size:150;not null;column:display_name" json:"displayName"`
	Email         string    `gorm:"size:255;not null;unique;index;column:email" json:"email"`
	Password      string    `gorm:"size:255;not null;column:password" json:"password,omitempty"`
	RoleID        int64     `gorm:"index;not null;column:role_id" json:"-"`
	Role          Role      `gorm:"foreignKey:RoleID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	RoleName      string    `gorm:"-" json:"role"`
	Active        bool      `gorm:"not null;default:true;column:active" json:"active"`
	Specialty     string    `gorm:"size:150;column:specialty" json:"specialty,omitempty"`
	LicenseNumber string    `gorm:"size:100;column:license_number" json:"licenseNumber,omitempty"`
	Phone         string    `gorm:"size:50;column:phone" json:"phone,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime;column:updated_at" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (u *User) AfterFind(tx *gorm.DB) error {
	if u.Role.Name != "" {
		u.RoleName = u.Role.Name
	}
	return nil
}

// Author is the immutable snapshot of the acting user stored on every
// clinical record at creation time.
type Author struct {
	ID    string `gorm:"size:36;column:id" json:"uid"`
	Name  string `gorm:"size:150;column:name" json:"displayName"`
	Email string `gorm:"size:255;column:email" json:"email"`
	Role  string `gorm:"size:50;column:role" json:"role"`
}

// AuthContext identifies the caller of every service operation.
type AuthContext struct {
	UID         string
	Role        string
	DisplayName string
	Email       string
}

func (a AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Snapshot freezes the caller identity for storage on a record.
func (a AuthContext) Snapshot() Author {
	return Author{ID: a.UID, Name: a.DisplayName, Email: a.Email, Role: a.Role}
}

// AuthContextFor builds the caller identity from a live user.
func AuthContextFor(u *User) AuthContext {
	return AuthContext{UID: u.ID, Role: u.RoleName, DisplayName: u.DisplayName, Email: u.Email}
}
