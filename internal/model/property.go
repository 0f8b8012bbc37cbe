package model

import "time"

// PropertyStatus は物件の公開状態を表す。
type PropertyStatus string

const (
	PropertyDraft     PropertyStatus = "draft"
	PropertyPublished PropertyStatus = "published"
)

// Property は掲載物件を表す。
// ウィザードの途中保存を許すため、ほとんどの列はNULL可。
type Property struct {
	ID              string
	LandlordID      string
	Title           *string
	Description     *string
	PropertyType    *string
	Address         *string
	City            *string
	State           *string
	PostalCode      *string
	Latitude        *float64
	Longitude       *float64
	Bedrooms        *int
	Bathrooms       *float64
	MonthlyRent     *float64
	AvailableFrom   *time.Time
	LeaseTermMonths *int
	Status          PropertyStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PropertyFeature は物件に付与する名前付き属性（例: "Parking Fee"）。
// Categoryでウィザードのステップ単位にまとめる。
type PropertyFeature struct {
	ID         string
	PropertyID string
	Category   string
	Name       string
	Value      string
	CreatedAt  time.Time
}

// PropertyPhoto はオブジェクトストレージに保存した物件写真。
type PropertyPhoto struct {
	ID          string
	PropertyID  string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// PropertySummary は検索結果の1行分。
type PropertySummary struct {
	ID          string
	Title       string
	City        string
	Address     string
	MonthlyRent *float64
	Status      PropertyStatus
}
