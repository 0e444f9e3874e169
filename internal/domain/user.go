package domain

// User represents a player account as seen by the client
type User struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	IsOnline   bool    `json:"isOnline"`
	Difficulty float64 `json:"difficulty,omitempty"`
	CreatedAt  string  `json:"createdAt,omitempty"`
}

// Cursor is the last reported pointer position of another connected user
type Cursor struct {
	UserID    string  `json:"user_id"`
	Username  string  `json:"username,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Session is the credential pair produced by login or registration
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
