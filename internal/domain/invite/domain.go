package invite

import "time"

// Invite is one DAO membership invitation addressed to an email that may
// or may not belong to a registered user yet.
type Invite struct {
	ID             int64     `json:"id"`
	DaoName        string    `json:"dao_name"`
	SenderUsername string    `json:"sender_username"`
	RecipientEmail string    `json:"recipient_email"`
	Token          string    `json:"token"`
	RecipientSent  bool      `json:"is_recipient_sent"`
	CreatedAt      time.Time `json:"created_at"`
}
