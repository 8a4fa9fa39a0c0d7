package models

import (
	"time"

	"github.com/google/uuid"
)

// NetworkStatus represents the cracking state of a capture target
type NetworkStatus string

// Network statuses
const (
	NetworkStatusPending  NetworkStatus = "pending"
	NetworkStatusCracking NetworkStatus = "cracking"
	NetworkStatusCracked  NetworkStatus = "cracked"
	NetworkStatusFailed   NetworkStatus = "failed"
)

// Network represents a wireless capture and its parsed identity. The
// upload/validation layer hands the core a validated capture path and
// metadata; the core never sniffs formats itself.
type Network struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	UserID      uuid.UUID     `json:"user_id" db:"user_id"`
	SSID        string        `json:"ssid" db:"ssid"`
	BSSID       string        `json:"bssid" db:"bssid"`
	CapturePath string        `json:"capture_path" db:"capture_path"`
	Status      NetworkStatus `json:"status" db:"status"`
	Password    *string       `json:"password,omitempty" db:"password"`
	CrackedAt   *time.Time    `json:"cracked_at,omitempty" db:"cracked_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}
