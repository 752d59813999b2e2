package parser

import (
	"bytes"
	"strings"
	"time"

	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

// MLLP frame characters
const (
	mllpStartBlock     = 0x0B
	mllpEndBlock       = 0x1C
	mllpCarriageReturn = 0x0D
)

const hl7TimestampLayout = "20060102150405"
const hl7DateLayout = "20060102"

// HL7Parser extracts result candidates from HL7 v2.x ORU messages. The
// ordering physician's LANR travels in OBR-16 (first component, with ORC-12
// as fallback); the practice BSNR in ORC-17.
type HL7Parser struct{}

func (p *HL7Parser) Parse(payload []byte) (*Candidate, error) {
	// Remove MLLP wrapper if present
	payload = bytes.TrimPrefix(payload, []byte{mllpStartBlock})
	payload = bytes.TrimSuffix(payload, []byte{mllpEndBlock, mllpCarriageReturn})

	text := strings.ReplaceAll(string(payload), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")
	segments := strings.Split(strings.Trim(text, "\r"), "\r")
	if len(segments) == 0 || segments[0] == "" {
		return nil, apperrors.NewParseError("HL7", "empty message")
	}

	if !strings.HasPrefix(segments[0], "MSH") {
		return nil, apperrors.NewParseError("HL7", "missing MSH segment")
	}
	msh := strings.Split(segments[0], "|")
	if len(msh) < 10 {
		return nil, apperrors.NewParseError("HL7", "incomplete MSH segment")
	}

	cand := &Candidate{
		// MSH-10 message control id
		MessageUID: msh[9],
	}

	for _, seg := range segments[1:] {
		fields := strings.Split(seg, "|")
		switch fields[0] {
		case "PID":
			// PID-5 LastName^FirstName, PID-7 DOB, PID-19 insurance number
			if len(fields) > 5 && fields[5] != "" {
				name := strings.Split(fields[5], "^")
				cand.PatientLastName = name[0]
				if len(name) > 1 {
					cand.PatientFirstName = name[1]
				}
			}
			if len(fields) > 7 && fields[7] != "" {
				raw := fields[7]
				if len(raw) > len(hl7DateLayout) {
					raw = raw[:len(hl7DateLayout)]
				}
				dob, err := time.Parse(hl7DateLayout, raw)
				if err != nil {
					return nil, apperrors.NewParseError("HL7", "invalid PID-7 birth date")
				}
				cand.PatientDOB = &dob
			}
			if len(fields) > 19 {
				cand.InsuranceNumber = fields[19]
			}
		case "ORC":
			// ORC-12 ordering provider fallback, ORC-17 entering organization
			if cand.LANR == "" && len(fields) > 12 {
				cand.LANR = firstComponent(fields[12])
			}
			if len(fields) > 17 {
				cand.BSNR = firstComponent(fields[17])
			}
		case "OBR":
			// OBR-7 observation timestamp, OBR-16 ordering provider
			if len(fields) > 7 && fields[7] != "" {
				ts := fields[7]
				if len(ts) > len(hl7TimestampLayout) {
					ts = ts[:len(hl7TimestampLayout)]
				}
				layout := hl7TimestampLayout[:len(ts)]
				date, err := time.Parse(layout, ts)
				if err != nil {
					return nil, apperrors.NewParseError("HL7", "invalid OBR-7 timestamp")
				}
				cand.ResultDate = date
			}
			if len(fields) > 16 && fields[16] != "" {
				cand.LANR = firstComponent(fields[16])
			}
		}
	}

	return cand, nil
}

func firstComponent(field string) string {
	if i := strings.IndexByte(field, '^'); i >= 0 {
		return field[:i]
	}
	return field
}
