package models

import (
	"time"

	"gorm.io/gorm"
)

// Resource is the aggregate root. Location and characteristics are owned by
// value and only change through the root.
type Resource struct {
	ID              int64            `gorm:"primaryKey;autoIncrement"`
	Type            ResourceType     `gorm:"type:varchar(32);not null;index"`
	CountryCode     string           `gorm:"type:char(2);not null;index"`
	Version         int64            `gorm:"not null;default:1"`
	CreatedAt       time.Time        `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       time.Time        `gorm:"not null;autoUpdateTime:false"`
	Location        *Location        `gorm:"foreignKey:ResourceID;constraint:OnDelete:CASCADE"`
	Characteristics []Characteristic `gorm:"foreignKey:ResourceID;constraint:OnDelete:CASCADE"`
}

// Location is the single address of a resource.
type Location struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ResourceID    int64  `gorm:"not null;uniqueIndex"`
	StreetAddress string `gorm:"not null"`
	City          string `gorm:"not null"`
	PostalCode    string `gorm:"type:char(5);not null"`
	CountryCode   string `gorm:"type:char(2);not null"`
}

// Characteristic is a typed code/value pair attached to a resource.
type Characteristic struct {
	ID         int64              `gorm:"primaryKey;autoIncrement"`
	ResourceID int64              `gorm:"not null;index"`
	Code       string             `gorm:"type:varchar(5);not null;index"`
	Type       CharacteristicType `gorm:"type:varchar(32);not null;index"`
	Value      string             `gorm:"column:char_value;not null"`
}

// SetLocation attaches loc to the resource, replacing any previous one.
func (r *Resource) SetLocation(loc *Location) {
	if loc != nil {
		loc.ResourceID = r.ID
	}
	r.Location = loc
}

// ReplaceCharacteristics swaps the whole characteristic set. Entries keep their
// ids so persisted rows can be told apart from new ones.
func (r *Resource) ReplaceCharacteristics(chars []Characteristic) {
	out := make([]Characteristic, 0, len(chars))
	for _, c := range chars {
		c.ResourceID = r.ID
		out = append(out, c)
	}
	r.Characteristics = out
}

// AlignLocationCountry forces the location country to the resource country and
// reports whether the value changed.
func (r *Resource) AlignLocationCountry() bool {
	if r.Location == nil || r.Location.CountryCode == r.CountryCode {
		return false
	}
	r.Location.CountryCode = r.CountryCode
	return true
}

// SameIdentity reports whether both characteristics refer to the same stored row.
// Transient characteristics (no id) never share an identity.
func SameIdentity(a, b Characteristic) bool {
	return a.ID != 0 && a.ID == b.ID
}

// SameBusinessKey compares characteristics by (code, type).
func SameBusinessKey(a, b Characteristic) bool {
	return a.Code == b.Code && a.Type == b.Type
}

// CharacteristicKey is the business key of a characteristic.
type CharacteristicKey struct {
	Code string
	Type CharacteristicType
}

// Key returns the business key.
func (c Characteristic) Key() CharacteristicKey {
	return CharacteristicKey{Code: c.Code, Type: c.Type}
}

// SetupModels migrates the schema with GORM. Production uses the SQL
// migrations; this is used by tests and by database.auto_migrate.
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(&Resource{}, &Location{}, &Characteristic{})
}
