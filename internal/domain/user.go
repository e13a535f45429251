package domain

import (
	"time"
)

// User is the owner of transcriptions. Callers are resolved by their
// normalized phone number when a call comes in.
type User struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey"`
	Phone     string    `json:"phone" gorm:"column:phone;uniqueIndex"`
	Name      string    `json:"name" gorm:"column:name"`
	Email     string    `json:"email" gorm:"column:email"`
	Title     string    `json:"title,omitempty" gorm:"column:title"`
	Company   string    `json:"company,omitempty" gorm:"column:company"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`

	Transcriptions []Transcription `json:"transcriptions,omitempty" gorm:"foreignKey:UserID"`
}

func (User) TableName() string {
	return "users"
}

// CreateUserRequest is the sign-up payload for the management API.
type CreateUserRequest struct {
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}
