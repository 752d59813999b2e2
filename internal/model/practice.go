package model

// Practice is the BSNR-keyed organizational identity. Read-only from the
// pipeline's perspective.
type Practice struct {
	Base
	BSNR string `db:"bsnr" json:"bsnr"`
	Name string `db:"name" json:"name"`
}
