package models

// User carries the contact fields the notification fan-out needs.
type User struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	TelegramChatID *int64 `json:"-"` // set once the user linked the bot
}
