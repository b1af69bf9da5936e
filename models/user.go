package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

const (
	UserRoleAdmin = "admin"
	UserRoleUser  = "user"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Username   string    `gorm:"index;size:100;not null" json:"username" binding:"required"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Name       string    `gorm:"size:100" json:"name"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:50" json:"phone"`
	Role       string    `gorm:"size:50;default:'user'" json:"role"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, errors.New("invalid email")
	}
	if err := utils.ValidateUnique[User](ctx, 0, "business_id = ? AND username = ?", businessId, input.Username); err != nil {
		return nil, errors.New("username already exists")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: businessId,
		Username:   input.Username,
		Password:   string(hashed),
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		Role:       input.Role,
		IsActive:   utils.NewTrue(),
	}
	if user.Role == "" {
		user.Role = "user"
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchModel[User](ctx, id)
}

// GetUserByUsername bypasses tenant scope: login happens before the tenant
// is known.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	return utils.FetchModelWhere[User](ctx, "username = ?", username)
}

// SessionUserContext resolves the session username into a tenant-stamped
// context: business id, user id, display name and the admin flag. The user
// lookup is cached in redis for an hour.
func SessionUserContext(ctx context.Context) (context.Context, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || strings.TrimSpace(username) == "" {
		return nil, errors.New("unauthorized")
	}

	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil || !exists {
		db := config.GetDB()
		if db == nil {
			return nil, errors.New("db is nil")
		}
		if err := db.WithContext(ctx).Model(&User{}).
			Where("username = ?", username).Take(&user).Error; err != nil {
			return nil, errors.New("unauthorized")
		}
		_ = config.SetRedisObject("User:"+username, &user, time.Hour)
	}
	if user.BusinessId == "" {
		return nil, errors.New("business_id is required")
	}

	ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	if user.Role == UserRoleAdmin {
		ctx = utils.SetIsAdminInContext(ctx, true)
	}
	return ctx, nil
}

func Login(ctx context.Context, username string, password string) (*User, string, error) {
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", errors.New("invalid username or password")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, "", errors.New("user is inactive")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, "", errors.New("invalid username or password")
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, "", err
	}
	if err := config.SetRedisValue("Token:"+token, user.Username, 24*time.Hour); err != nil {
		return nil, "", err
	}
	return user, token, nil
}
