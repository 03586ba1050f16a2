package domain

import "errors"

// ErrUnknownEntityType is returned by an EntityStore asked for rows of an
// entity type it does not hold.
var ErrUnknownEntityType = errors.New("unknown entity type")

// Bank is a financial institution taking part in comparisons.
type Bank struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	IsActive bool   `json:"isActive" yaml:"isActive"`
}

// Ref returns the compact bank reference embedded in results.
func (b *Bank) Ref() BankRef {
	return BankRef{ID: b.ID, Name: b.Name}
}

// BankRef identifies a bank inside a comparison result.
type BankRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Supported entity types for bank offers.
const (
	EntityAccount = "account"
	EntityCard    = "card"
	EntityLoan    = "loan"
	EntitySavings = "savings"
)

// EntityTypes lists every entity type an EntityStore may serve.
var EntityTypes = []string{EntityAccount, EntityCard, EntityLoan, EntitySavings}

// IsKnownEntityType reports whether t is a supported entity type.
func IsKnownEntityType(t string) bool {
	for _, known := range EntityTypes {
		if known == t {
			return true
		}
	}
	return false
}

// EntityRow is one offer row (account, card, ...) belonging to a bank.
// Fields holds the free-form attributes that criteria read through
// their valuePath.
type EntityRow struct {
	ID         string         `json:"id" yaml:"id"`
	BankID     string         `json:"bankId" yaml:"bankId"`
	EntityType string         `json:"entityType" yaml:"entityType"`
	Fields     map[string]any `json:"fields" yaml:"fields"`
}

// Lookup resolves a dotted field path on the row. "id" and "bank_id" map
// to the row identifiers.
func (r *EntityRow) Lookup(path string) (any, bool) {
	switch path {
	case "id":
		return r.ID, true
	case "bank_id", "bankId":
		return r.BankID, true
	}
	return LookupPath(r.Fields, path)
}
