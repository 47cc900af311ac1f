package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"constructionpro/internal/access"
)

// User represents a user in the system
type User struct {
	ID         int         `gorm:"primaryKey;column:id" json:"id"`
	Provider   string      `gorm:"column:provider;not null;uniqueIndex:idx_users_provider_identity" json:"provider"`
	ProviderID string      `gorm:"column:provider_id;not null;uniqueIndex:idx_users_provider_identity" json:"provider_id"`
	Email      string      `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Name       string      `gorm:"column:name;not null" json:"name"`
	AvatarURL  string      `gorm:"column:avatar_url" json:"avatar_url"`
	Role       access.Role `gorm:"column:role;type:varchar(32);not null" json:"role"`
	IsBlaster  bool        `gorm:"column:is_blaster;not null" json:"is_blaster"`
	IsActive   bool        `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt  time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

// Viewer returns the caller side of the visibility predicate.
func (u *User) Viewer() access.Viewer {
	return access.Viewer{
		UserID:        u.ID,
		Role:          u.Role,
		SpecialAccess: u.IsBlaster,
	}
}

// UserManager provides Django-like ORM methods for User
type UserManager struct {
	db *gorm.DB
}

// NewUserManager creates a new UserManager instance
func NewUserManager(db *gorm.DB) *UserManager {
	return &UserManager{db: db}
}

// Create creates a new user
func (m *UserManager) Create(user *User) error {
	if user.Role == "" {
		user.Role = access.RoleViewer
	}
	return translate(m.db.Create(user).Error)
}

// UpsertFromProvider creates the user for an OAuth identity or refreshes the
// profile fields of an existing one. Role and flags are left untouched on
// update.
func (m *UserManager) UpsertFromProvider(profile User) (*User, error) {
	user := profile
	if user.Role == "" {
		user.Role = access.RoleViewer
	}
	user.IsActive = true

	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "avatar_url", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, translate(err)
	}

	return GetObjectOr404[User](m.db, "provider = ? AND provider_id = ?", profile.Provider, profile.ProviderID)
}

// Get retrieves a user by ID
func (m *UserManager) Get(id int) (*User, error) {
	return GetObjectOr404[User](m.db, id)
}

// GetActive retrieves a user by ID, treating deactivated accounts as missing.
func (m *UserManager) GetActive(id int) (*User, error) {
	return GetObjectOr404[User](m.db.Where("is_active = ?", true), id)
}

// GetByEmail retrieves a user by email
func (m *UserManager) GetByEmail(email string) (*User, error) {
	return GetObjectOr404[User](m.db.Where("email = ?", email))
}

// FindEligibleAssignees returns the subset of ids that are active users
// holding the special-access flag.
func (m *UserManager) FindEligibleAssignees(ids []int) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	err := m.db.Where("id IN ? AND is_active = ? AND is_blaster = ?", ids, true, true).
		Order("id").
		Find(&users).Error
	return users, err
}

// Update updates a user
func (m *UserManager) Update(user *User) error {
	return translate(m.db.Save(user).Error)
}

// SetRole changes a user's role and special-access flag.
func (m *UserManager) SetRole(id int, role access.Role, isBlaster bool) error {
	res := m.db.Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"role":       role,
		"is_blaster": isBlaster,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// Deactivate marks a user inactive without deleting their history.
func (m *UserManager) Deactivate(id int) error {
	res := m.db.Model(&User{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}
