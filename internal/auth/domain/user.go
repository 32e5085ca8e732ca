package domain

import "time"

type UserID string

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID           UserID
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
