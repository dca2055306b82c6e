package expense

import (
	"math"
	"time"

	"cloud.google.com/go/civil"
)

// Category classifies an expense. The set is fixed: it is part of the
// extraction contract sent to the model, not a database-driven taxonomy.
type Category string

const (
	CategoryFood          Category = "Food"
	CategoryTravel        Category = "Travel"
	CategoryShopping      Category = "Shopping"
	CategoryUtilities     Category = "Utilities"
	CategoryEntertainment Category = "Entertainment"
	CategoryHealth        Category = "Health"
	CategoryOther         Category = "Other"
)

// DefaultVendor is the vendor recorded when none could be determined.
const DefaultVendor = "Unknown"

// Categories returns all valid category names in a stable order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTravel,
		CategoryShopping,
		CategoryUtilities,
		CategoryEntertainment,
		CategoryHealth,
		CategoryOther,
	}
}

// ValidCategory reports whether name is one of the fixed categories.
func ValidCategory(name Category) bool {
	for _, c := range Categories() {
		if c == name {
			return true
		}
	}
	return false
}

// Expense is one committed expense record. Its ArtifactKey always references
// an object that exists in the receipt store; the ingestion pipeline and the
// committer maintain that coupling.
type Expense struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Vendor      string     `json:"vendor"`
	Amount      float64    `json:"amount"`
	Date        civil.Date `json:"date"`
	Category    Category   `json:"category"`
	ArtifactKey string     `json:"artifactKey"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Fields is the validated input for creating an expense.
type Fields struct {
	Owner       string
	Vendor      string
	Amount      float64
	Date        civil.Date
	Category    Category
	ArtifactKey string
}

// Validate checks field constraints. Defaulting happens earlier, in the
// extraction normalization step, so every field here must already be concrete.
func (f Fields) Validate() error {
	verr := &ValidationError{Fields: map[string]string{}}

	if f.Owner == "" {
		verr.Fields["owner"] = "owner is required"
	}
	if f.ArtifactKey == "" {
		verr.Fields["artifactKey"] = "receipt artifact key is required"
	}
	if f.Vendor == "" {
		verr.Fields["vendor"] = "vendor is required"
	}
	if math.IsNaN(f.Amount) || math.IsInf(f.Amount, 0) {
		verr.Fields["amount"] = "amount must be a number"
	} else if f.Amount < 0 {
		verr.Fields["amount"] = "amount must not be negative"
	}
	if !ValidCategory(f.Category) {
		verr.Fields["category"] = "invalid category"
	}
	if !f.Date.IsValid() {
		verr.Fields["date"] = "date must be a valid calendar date"
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Patch carries partial updates for an existing expense. Nil pointers leave
// the corresponding field untouched.
type Patch struct {
	Vendor      *string
	Amount      *float64
	Date        *civil.Date
	Category    *Category
	ArtifactKey *string
}
