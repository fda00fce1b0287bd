// Package membership answers room-membership questions against the user and
// room tables owned by the account and room services. It never writes.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Membership is the read-only room membership authority.
type Membership interface {
	// IsMember reports whether username currently belongs to the room
	// identified by name or numeric id.
	IsMember(ctx context.Context, username, room string) (bool, error)
	// RoomsOf lists the rooms username belongs to. Unknown users yield
	// domain.ErrUserNotFound.
	RoomsOf(ctx context.Context, username string) ([]domain.Room, error)
}

// UserModel maps the users table.
type UserModel struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"type:varchar(100);uniqueIndex;not null"`
}

func (UserModel) TableName() string { return "users" }

// RoomModel maps the chat_rooms table.
type RoomModel struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"type:varchar(100);uniqueIndex;not null"`
}

func (RoomModel) TableName() string { return "chat_rooms" }

// RoomMemberModel maps the room_members join table.
type RoomMemberModel struct {
	RoomID int64 `gorm:"primaryKey"`
	UserID int64 `gorm:"primaryKey"`
}

func (RoomMemberModel) TableName() string { return "room_members" }

// GormMembership implements Membership with GORM.
type GormMembership struct {
	db *gorm.DB
}

// NewGormMembership creates a new GORM-based membership reader.
func NewGormMembership(db *gorm.DB) *GormMembership {
	return &GormMembership{db: db}
}

// IsMember runs a single query joining the three tables.
func (m *GormMembership) IsMember(ctx context.Context, username, room string) (bool, error) {
	query := m.db.WithContext(ctx).
		Table("room_members").
		Joins("JOIN users ON users.id = room_members.user_id").
		Joins("JOIN chat_rooms ON chat_rooms.id = room_members.room_id").
		Where("users.username = ?", username)

	if id, err := strconv.ParseInt(room, 10, 64); err == nil {
		query = query.Where("chat_rooms.name = ? OR chat_rooms.id = ?", room, id)
	} else {
		query = query.Where("chat_rooms.name = ?", room)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldUsername, username).
			Str(log.FieldRoomID, room).
			Msg("membership lookup failed")
		return false, fmt.Errorf("membership lookup: %w", err)
	}

	return count > 0, nil
}

// RoomsOf returns the user's rooms ordered by name.
func (m *GormMembership) RoomsOf(ctx context.Context, username string) ([]domain.Room, error) {
	var user UserModel
	err := m.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	var models []RoomModel
	err = m.db.WithContext(ctx).
		Model(&RoomModel{}).
		Joins("JOIN room_members ON room_members.room_id = chat_rooms.id").
		Where("room_members.user_id = ?", user.ID).
		Order("chat_rooms.name").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("rooms lookup: %w", err)
	}

	rooms := make([]domain.Room, len(models))
	for i, r := range models {
		rooms[i] = domain.Room{ID: strconv.FormatInt(r.ID, 10), Name: r.Name}
	}
	return rooms, nil
}
