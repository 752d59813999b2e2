package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

func ldtLine(fieldID, value string) string {
	body := fieldID + value
	return fmt.Sprintf("%03d%s", len(body)+5, body)
}

func ldtPayload(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestLDTParseExtractsCandidate(t *testing.T) {
	payload := ldtPayload(
		ldtLine("8310", "ORDER-42"),
		ldtLine("0212", "987654321"),
		ldtLine("0201", "123456789"),
		ldtLine("3101", "Mustermann"),
		ldtLine("3102", "Erika"),
		ldtLine("3103", "12031974"),
		ldtLine("3105", "X110512345"),
		ldtLine("8432", "05062024"),
	)

	cand, err := (&LDTParser{}).Parse(payload)
	require.NoError(t, err)

	assert.Equal(t, "ORDER-42", cand.MessageUID)
	assert.Equal(t, "987654321", cand.LANR)
	assert.Equal(t, "123456789", cand.BSNR)
	assert.Equal(t, "Mustermann", cand.PatientLastName)
	assert.Equal(t, "Erika", cand.PatientFirstName)
	assert.Equal(t, "X110512345", cand.InsuranceNumber)
	require.NotNil(t, cand.PatientDOB)
	assert.Equal(t, time.Date(1974, 3, 12, 0, 0, 0, 0, time.UTC), *cand.PatientDOB)
	assert.Equal(t, time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC), cand.ResultDate)
}

func TestLDTParseMissingFieldsLeftEmpty(t *testing.T) {
	payload := ldtPayload(ldtLine("8310", "ORDER-1"))

	cand, err := (&LDTParser{}).Parse(payload)
	require.NoError(t, err)
	assert.Empty(t, cand.LANR)
	assert.Empty(t, cand.BSNR)
	assert.Nil(t, cand.PatientDOB)
}

func TestLDTParseLengthMismatchIsPermanent(t *testing.T) {
	payload := []byte("9990212987654321\r\n")

	_, err := (&LDTParser{}).Parse(payload)
	require.Error(t, err)

	var pe *apperrors.ParseError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
}

func TestLDTParseRejectsGarbage(t *testing.T) {
	_, err := (&LDTParser{}).Parse([]byte("xx"))
	assert.Error(t, err)

	_, err = (&LDTParser{}).Parse([]byte(""))
	assert.Error(t, err)
}

func TestLDTParseInvalidDate(t *testing.T) {
	payload := ldtPayload(ldtLine("3103", "99999999"))
	_, err := (&LDTParser{}).Parse(payload)
	assert.Error(t, err)
}
