package parser

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

// Identifier system suffixes carrying LANR and BSNR on DiagnosticReport
// performers.
const (
	fhirSystemLANR = "KBV_NS_Base_ANR"
	fhirSystemBSNR = "KBV_NS_Base_BSNR"
)

type fhirIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type fhirReference struct {
	Display    string          `json:"display"`
	Identifier *fhirIdentifier `json:"identifier"`
}

type fhirDiagnosticReport struct {
	ResourceType      string           `json:"resourceType"`
	Identifier        []fhirIdentifier `json:"identifier"`
	Subject           *fhirReference   `json:"subject"`
	Performer         []fhirReference  `json:"performer"`
	EffectiveDateTime string           `json:"effectiveDateTime"`
}

type fhirBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// FHIRParser extracts candidates from a DiagnosticReport resource, either
// standalone or as the first DiagnosticReport entry of a Bundle.
type FHIRParser struct{}

func (p *FHIRParser) Parse(payload []byte) (*Candidate, error) {
	report, err := locateReport(payload)
	if err != nil {
		return nil, err
	}

	cand := &Candidate{}
	if len(report.Identifier) > 0 {
		cand.MessageUID = report.Identifier[0].Value
	}

	if report.Subject != nil {
		cand.PatientLastName, cand.PatientFirstName = splitDisplayName(report.Subject.Display)
		if report.Subject.Identifier != nil {
			cand.InsuranceNumber = report.Subject.Identifier.Value
		}
	}

	for _, perf := range report.Performer {
		if perf.Identifier == nil {
			continue
		}
		switch {
		case strings.HasSuffix(perf.Identifier.System, fhirSystemLANR):
			cand.LANR = perf.Identifier.Value
		case strings.HasSuffix(perf.Identifier.System, fhirSystemBSNR):
			cand.BSNR = perf.Identifier.Value
		}
	}

	if report.EffectiveDateTime != "" {
		date, err := time.Parse(time.RFC3339, report.EffectiveDateTime)
		if err != nil {
			return nil, apperrors.NewParseError("FHIR", "invalid effectiveDateTime")
		}
		cand.ResultDate = date
	}

	return cand, nil
}

func locateReport(payload []byte) (*fhirDiagnosticReport, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, apperrors.NewParseError("FHIR", "invalid JSON document")
	}

	switch probe.ResourceType {
	case "DiagnosticReport":
		var report fhirDiagnosticReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, apperrors.NewParseError("FHIR", "malformed DiagnosticReport")
		}
		return &report, nil
	case "Bundle":
		var bundle fhirBundle
		if err := json.Unmarshal(payload, &bundle); err != nil {
			return nil, apperrors.NewParseError("FHIR", "malformed Bundle")
		}
		for _, entry := range bundle.Entry {
			var report fhirDiagnosticReport
			if err := json.Unmarshal(entry.Resource, &report); err != nil {
				continue
			}
			if report.ResourceType == "DiagnosticReport" {
				return &report, nil
			}
		}
		return nil, apperrors.NewParseError("FHIR", "bundle contains no DiagnosticReport")
	default:
		return nil, apperrors.NewParseError("FHIR", "unsupported resource type "+probe.ResourceType)
	}
}

// splitDisplayName handles the "Last, First" convention used by upstream
// senders.
func splitDisplayName(display string) (last, first string) {
	parts := strings.SplitN(display, ",", 2)
	last = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		first = strings.TrimSpace(parts[1])
	}
	return last, first
}
