/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// City groups slots by office location. Timezone is an IANA name.
type City struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(128);not null" json:"name"`
	Timezone string `gorm:"type:varchar(64)" json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (City) TableName() string {
	return "cities"
}

// Recruiter owns slots.
type Recruiter struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	FullName string `gorm:"type:varchar(255)" json:"full_name"`
	Email    string `gorm:"type:varchar(255)" json:"email"`
	Timezone string `gorm:"type:varchar(64)" json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Recruiter) TableName() string {
	return "recruiters"
}

// Candidate is the person being interviewed. Contact fields are all optional;
// a reminder channel without the field it needs fails permanently.
type Candidate struct {
	ID         string `gorm:"type:uuid;primaryKey" json:"id"`
	FullName   string `gorm:"type:varchar(255)" json:"full_name"`
	Email      string `gorm:"type:varchar(255)" json:"email,omitempty"`
	Phone      string `gorm:"type:varchar(32)" json:"phone,omitempty"`
	ChatHandle string `gorm:"type:varchar(128)" json:"chat_handle,omitempty"`
	Timezone   string `gorm:"type:varchar(64)" json:"timezone"`

	// Web push subscription
	PushEndpoint string `gorm:"type:text" json:"-"`
	PushP256DH   string `gorm:"type:varchar(255)" json:"-"`
	PushAuth     string `gorm:"type:varchar(255)" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Candidate) TableName() string {
	return "candidates"
}
