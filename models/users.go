package models

import "time"

const RoleAdmin = "ADMIN"

// User is read by the settlement approval flow; accounts are managed elsewhere.
type User struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255); not null" json:"name"`
	Email     string `gorm:"type:varchar(255); unique;not null" json:"email"`
	Role      string `gorm:"type:varchar(50); not null" json:"role"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
