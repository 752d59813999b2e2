package parser

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

// LDT field identifiers used by lab result records.
const (
	ldtFieldOrderID   = "8310"
	ldtFieldLANR      = "0212"
	ldtFieldBSNR      = "0201"
	ldtFieldLastName  = "3101"
	ldtFieldFirstName = "3102"
	ldtFieldDOB       = "3103"
	ldtFieldInsurance = "3105"
	ldtFieldDate      = "8432"
)

// LDT dates are day-first without separators (TTMMJJJJ).
const ldtDateLayout = "02012006"

// LDTParser reads the line-oriented LDT record format: each line is a
// 3-digit length, a 4-digit field identifier and the field value. The
// length covers the whole line including the trailing CRLF.
type LDTParser struct{}

func (p *LDTParser) Parse(payload []byte) (*Candidate, error) {
	text := strings.ReplaceAll(string(payload), "\r\n", "\n")
	lines := strings.Split(strings.Trim(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, apperrors.NewParseError("LDT", "empty payload")
	}

	fields := make(map[string]string, len(lines))
	for i, line := range lines {
		if len(line) < 7 {
			return nil, apperrors.NewParseError("LDT", "record line "+strconv.Itoa(i+1)+" too short")
		}
		declared, err := strconv.Atoi(line[:3])
		if err != nil {
			return nil, apperrors.NewParseError("LDT", "record line "+strconv.Itoa(i+1)+": invalid length prefix")
		}
		// declared length includes the two CRLF bytes stripped above
		if declared != len(line)+2 {
			return nil, apperrors.NewParseError("LDT", "record line "+strconv.Itoa(i+1)+": length mismatch")
		}
		fieldID := line[3:7]
		// last occurrence wins, matching single-record lab reports
		fields[fieldID] = line[7:]
	}

	cand := &Candidate{
		MessageUID:       fields[ldtFieldOrderID],
		LANR:             fields[ldtFieldLANR],
		BSNR:             fields[ldtFieldBSNR],
		PatientLastName:  fields[ldtFieldLastName],
		PatientFirstName: fields[ldtFieldFirstName],
		InsuranceNumber:  fields[ldtFieldInsurance],
	}

	if v := fields[ldtFieldDOB]; v != "" {
		dob, err := time.Parse(ldtDateLayout, v)
		if err != nil {
			return nil, apperrors.NewParseError("LDT", "invalid birth date "+v)
		}
		cand.PatientDOB = &dob
	}

	if v := fields[ldtFieldDate]; v != "" {
		date, err := time.Parse(ldtDateLayout, v)
		if err != nil {
			return nil, apperrors.NewParseError("LDT", "invalid result date "+v)
		}
		cand.ResultDate = date
	}

	return cand, nil
}
