// Package parser converts raw payloads of a declared format family into
// structured result candidates. Parsers only extract fields; validation and
// identity mapping happen downstream.
package parser

import (
	"fmt"
	"time"

	"github.com/befundwerk/ingest-api/internal/model"
)

// Candidate carries the raw fields extracted from a payload. Identifier
// candidates are kept as extracted, even when malformed.
type Candidate struct {
	MessageUID       string
	LANR             string
	BSNR             string
	PatientLastName  string
	PatientFirstName string
	PatientDOB       *time.Time
	InsuranceNumber  string
	ResultDate       time.Time
}

type Parser interface {
	Parse(payload []byte) (*Candidate, error)
}

// Registry dispatches on the declared content type. The format set is
// closed; an unknown type is a caller bug, not a parse failure.
type Registry struct {
	parsers map[model.ContentType]Parser
}

func NewRegistry() *Registry {
	return &Registry{
		parsers: map[model.ContentType]Parser{
			model.ContentTypeLDT:  &LDTParser{},
			model.ContentTypeHL7:  &HL7Parser{},
			model.ContentTypeFHIR: &FHIRParser{},
		},
	}
}

func (r *Registry) Get(ct model.ContentType) (Parser, error) {
	p, ok := r.parsers[ct]
	if !ok {
		return nil, fmt.Errorf("no parser registered for content type %q", ct)
	}
	return p, nil
}
