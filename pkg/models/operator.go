package models

import "time"

// Operator represents an authenticated control client
type Operator struct {
	// From JWT claims
	ID          string `json:"id"`          // Converted from int64 user_id
	Username    string `json:"username"`    // JWT claim
	Permissions int64  `json:"permissions"` // JWT claim: bitwise permission flags
	Activated   int64  `json:"activated"`   // JWT claim: activation timestamp or ban status

	// Connection state
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at"`
}

// IsActive checks if the operator account is activated and not banned
func (o *Operator) IsActive() bool {
	// activated > 0 means activated
	// activated == 0 means not activated
	// activated == -1 means banned
	return o.Activated > 0
}

// IsBanned checks if the operator is banned
func (o *Operator) IsBanned() bool {
	return o.Activated == -1
}
