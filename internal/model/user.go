package model

import "time"

// User holds the credit balance for a storefront customer. IDs come from the
// auth system's subject claim, or are generated for guest checkouts.
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Email     string    `gorm:"size:255;index" json:"email"`
	Credits   int       `gorm:"not null;default:0" json:"credits"`
	IsGuest   bool      `gorm:"not null;default:false" json:"isGuest"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Order is created exactly once per payment session.
type Order struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"size:64;not null;index" json:"userId"`
	Amount          int64     `gorm:"not null" json:"amount"` // minor units
	Currency        string    `gorm:"size:8;not null" json:"currency"`
	Credits         int       `gorm:"not null" json:"credits"`
	StripeSessionID string    `gorm:"size:255;not null;uniqueIndex" json:"stripeSessionId"`
	PackageID       string    `gorm:"size:64" json:"packageId"`
	FormID          string    `gorm:"size:64;index" json:"formId,omitempty"`
	Status          string    `gorm:"size:32;not null" json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
