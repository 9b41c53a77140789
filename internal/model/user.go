package model

import "time"

const DefaultUserRole = "member"

type User struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Username    string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	DisplayName string    `gorm:"size:128;not null" json:"displayName"`
	Role        string    `gorm:"size:32;not null" json:"role"`
	Avatar      string    `gorm:"size:512" json:"avatar,omitempty"`
	IsOnline    bool      `gorm:"not null;default:false" json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `json:"createdAt"`
}
