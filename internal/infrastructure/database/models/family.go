package models

import "time"

// Family is the persisted root row of the synchronized entity.
type Family struct {
	Key         string `gorm:"primaryKey;type:text"`
	DisplayName string `gorm:"type:text;not null"`

	Members  []FamilyMember  `gorm:"foreignKey:FamilyKey;constraint:OnDelete:CASCADE"`
	Carpools []FamilyCarpool `gorm:"foreignKey:FamilyKey;constraint:OnDelete:CASCADE"`

	CDate time.Time `gorm:"autoCreateTime"`
	MDate time.Time `gorm:"autoUpdateTime"`
}

type FamilyMember struct {
	FamilyKey string `gorm:"primaryKey;type:text"`
	UserID    string `gorm:"primaryKey;type:text"`
	Role      string `gorm:"type:text;not null"`
}

type FamilyCarpool struct {
	FamilyKey   string `gorm:"primaryKey;type:text"`
	CarpoolID   string `gorm:"primaryKey;type:text"`
	Participant bool   `gorm:"not null"`
}
