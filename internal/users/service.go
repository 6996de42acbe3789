package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/auth"
	"github.com/lumenworks/taskpilot/backend/internal/tabs"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable subject.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates no account exists for the given id.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages user accounts keyed by the Google subject id.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Upsert returns the account for the verified Google claims, creating it on
// first login. Creation also seeds the user's Today and All Tasks system
// tabs in the same transaction. Repeat logins refresh stale profile fields.
func (s *Service) Upsert(ctx context.Context, claims auth.GoogleClaims) (*User, error) {
	googleID := normalize(claims.Subject)
	if googleID == "" {
		return nil, ErrInvalidIdentity
	}

	// Repeat logins from a known subject skip the google_id lookup unless
	// the profile drifted, in which case the transactional path refreshes it.
	if cached, ok := s.cache.Load(googleID); ok {
		if known, err := s.GetByID(ctx, cached.(int64)); err == nil && !profileChanged(known, claims) {
			return known, nil
		}
	}

	var user User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("google_id = ?", googleID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = User{
				GoogleID:  googleID,
				Email:     normalize(claims.Email),
				Name:      normalize(claims.Name),
				AvatarURL: normalize(claims.AvatarURL),
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			return tabs.SeedSystemTabs(tx, user.ID, s.now().UTC())
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != user.Email {
			updates["email"] = email
		}
		if name := normalize(claims.Name); name != "" && name != user.Name {
			updates["name"] = name
		}
		if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != user.AvatarURL {
			updates["avatar_url"] = avatar
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", user.ID).Take(&user).Error
	})
	if txErr != nil {
		return nil, txErr
	}

	s.cache.Store(googleID, user.ID)
	return &user, nil
}

func profileChanged(user *User, claims auth.GoogleClaims) bool {
	if email := normalize(claims.Email); email != "" && email != user.Email {
		return true
	}
	if name := normalize(claims.Name); name != "" && name != user.Name {
		return true
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != user.AvatarURL {
		return true
	}
	return false
}

// GetByID loads an account by server id.
func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
