package models

import (
	"time"

	"gorm.io/gorm"
)

// LeadStatus represents one CRM pipeline status a lead can be in.
type LeadStatus struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name     string `gorm:"not null" json:"name"`
	Color    string `json:"color"`
	Position int    `gorm:"default:0" json:"position"`
}

// Lead represents a single contact in a business's CRM.
type Lead struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `gorm:"not null;index" json:"phone"`
	Email     string `json:"email"`
	Company   string `json:"company"`

	// Current pipeline position; 0 means not yet assigned to a status.
	StatusID uint `gorm:"index" json:"status_id"`

	Source      string     `json:"source"`
	LastContact *time.Time `json:"last_contact"`
}
