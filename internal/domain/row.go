package domain

import "github.com/google/uuid"

// Row is one staged source record. All fields are loosely typed strings and
// are interpreted through the owning import's ColumnMapping at read time.
type Row struct {
	ImportID uuid.UUID `json:"-"`
	Index    int       `json:"index"`

	Date           string `json:"date,omitempty"`
	Amount         string `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	Name           string `json:"name,omitempty"`
	Category       string `json:"category,omitempty"`
	CategoryParent string `json:"category_parent,omitempty"`
	Ticker         string `json:"ticker,omitempty"`
	ExchangeMIC    string `json:"exchange_mic,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	Price          string `json:"price,omitempty"`
	EntityType     string `json:"entity_type,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Tags           string `json:"tags,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	Account        string `json:"account,omitempty"`
}

// Get returns the raw value of field f.
func (r Row) Get(f Field) string {
	switch f {
	case FieldDate:
		return r.Date
	case FieldAmount:
		return r.Amount
	case FieldCurrency:
		return r.Currency
	case FieldName:
		return r.Name
	case FieldCategory:
		return r.Category
	case FieldCategoryParent:
		return r.CategoryParent
	case FieldTicker:
		return r.Ticker
	case FieldExchangeMIC:
		return r.ExchangeMIC
	case FieldQuantity:
		return r.Quantity
	case FieldPrice:
		return r.Price
	case FieldEntityType:
		return r.EntityType
	case FieldNotes:
		return r.Notes
	case FieldTags:
		return r.Tags
	case FieldExternalID:
		return r.ExternalID
	case FieldAccount:
		return r.Account
	}
	return ""
}

// Set assigns the raw value of field f.
func (r *Row) Set(f Field, v string) {
	switch f {
	case FieldDate:
		r.Date = v
	case FieldAmount:
		r.Amount = v
	case FieldCurrency:
		r.Currency = v
	case FieldName:
		r.Name = v
	case FieldCategory:
		r.Category = v
	case FieldCategoryParent:
		r.CategoryParent = v
	case FieldTicker:
		r.Ticker = v
	case FieldExchangeMIC:
		r.ExchangeMIC = v
	case FieldQuantity:
		r.Quantity = v
	case FieldPrice:
		r.Price = v
	case FieldEntityType:
		r.EntityType = v
	case FieldNotes:
		r.Notes = v
	case FieldTags:
		r.Tags = v
	case FieldExternalID:
		r.ExternalID = v
	case FieldAccount:
		r.Account = v
	}
}

// AllFields lists every mappable Row field in display order.
var AllFields = []Field{
	FieldDate, FieldAmount, FieldCurrency, FieldName, FieldCategory,
	FieldCategoryParent, FieldTicker, FieldExchangeMIC, FieldQuantity,
	FieldPrice, FieldEntityType, FieldNotes, FieldTags, FieldExternalID,
	FieldAccount,
}
