package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestFields are the mutable, caller-supplied fields of a TransferRequest.
type RequestFields struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,currency"`
	FromCountry string          `json:"fromCountry" validate:"required,country"`
	FromCity    string          `json:"fromCity" validate:"required,notblank,max=120"`
	ToCountry   string          `json:"toCountry" validate:"required,country"`
	ToCity      string          `json:"toCity" validate:"required,notblank,max=120"`
	Name        string          `json:"name" validate:"required,notblank,max=120"`
	PhoneNumber string          `json:"phoneNumber" validate:"required,phone"`
}

// TransferRequest is a posted need to move money between two countries.
type TransferRequest struct {
	ID string `json:"id"`
	RequestFields
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r TransferRequest) EntityID() string           { return r.ID }
func (r TransferRequest) EntityCreatedAt() time.Time { return r.CreatedAt }

// Comment is attached to a TransferRequest. Comments are append/delete only.
type Comment struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserPhoto string    `json:"userPhoto,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Comment) EntityID() string           { return c.ID }
func (c Comment) EntityCreatedAt() time.Time { return c.CreatedAt }

// Identity is a verified user as resolved by the identity provider.
type Identity struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Subject     string    `json:"-"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
