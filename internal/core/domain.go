package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionKind = "income"
	Expense TransactionKind = "expense"
)

type (
	TransactionKind string

	Money struct {
		Cents int64
	}

	// User is the authenticated identity for the current process.
	User struct {
		ID        string
		Name      string
		Email     string
		AvatarURL string
	}

	// Profile is the backend-persisted record of user-facing attributes.
	Profile struct {
		ID                   string
		Name                 string
		Email                string
		Currency             string
		Theme                string
		NotificationsEnabled bool
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	// ProfileUpdate carries partial profile fields; nil means "leave unchanged".
	ProfileUpdate struct {
		Name                 *string
		AvatarURL            *string
		Currency             *string
		Theme                *string
		NotificationsEnabled *bool
	}

	// Transaction is one recorded income or expense event.
	Transaction struct {
		ID          string
		UserID      string
		Kind        TransactionKind
		Amount      Money
		Description string
		Category    string
		CreatedAt   time.Time
	}

	// TransactionInput holds the user-submitted fields of a transaction
	// before the backend assigns an identifier and timestamp.
	TransactionInput struct {
		Kind        TransactionKind
		Amount      Money
		Description string
		Category    string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidCurrency  = errors.New("invalid currency code")
)

// Categories is the closed set of transaction category labels.
var Categories = []string{"travel", "home", "personal", "services", "salary", "other"}

// Currencies is the allow-list of display currency codes.
var Currencies = []string{"USD", "EUR", "MXN", "COP", "ARS", "CLP", "PEN"}

// DefaultCurrency is used until a stored preference is known.
const DefaultCurrency = "USD"

func (k TransactionKind) Valid() bool {
	return k == Income || k == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidCategory reports whether name belongs to the fixed category set.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// ValidCurrency reports whether code belongs to the currency allow-list.
func ValidCurrency(code string) bool {
	for _, c := range Currencies {
		if c == code {
			return true
		}
	}
	return false
}

func (in TransactionInput) Validate() error {
	if !in.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(in.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(in.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if !ValidCategory(in.Category) {
		return ErrInvalidCategory
	}
	return nil
}

// DefaultName derives a display name from the local part of an email address.
func DefaultName(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
