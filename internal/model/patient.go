package model

import "time"

// Patient is owned by the administrative system; the pipeline only looks
// patients up for mapping and never mutates demographics.
type Patient struct {
	Base
	ExternalRef     string     `db:"external_ref" json:"external_ref"`
	LastName        string     `db:"last_name" json:"last_name"`
	FirstName       string     `db:"first_name" json:"first_name"`
	DateOfBirth     *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	InsuranceNumber *string    `db:"insurance_number" json:"insurance_number,omitempty"`
	PIIHash         *string    `db:"pii_hash" json:"-"`
}
