package user

import "time"

// User is a read-only projection of a platform account at the moment a
// change event fires or a poll runs. This pipeline never mutates it
// beyond the rename acknowledgement.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	OnboardedAt *time.Time `json:"onboarded_at"`
	RenamedFrom *string    `json:"renamed_from"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
