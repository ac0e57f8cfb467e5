package patient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInput_Minimal(t *testing.T) {
	in, err := ValidateInput(Input{Name: "Alice", DOB: "1990-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", in.Name)
	assert.Equal(t, "1990-01-01", in.DOB)
}

func TestValidateInput_TrimsAndNormalizes(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed "é" (NFC)
	in, err := ValidateInput(Input{
		Name:  "  Rene\u0301 ",
		DOB:   " 1985-12-31 ",
		Email: " rene@example.com ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ren\u00e9", in.Name)
	assert.Equal(t, "1985-12-31", in.DOB)
	assert.Equal(t, "rene@example.com", in.Email)
}

func TestValidateInput_MissingName(t *testing.T) {
	_, err := ValidateInput(Input{Name: "   ", DOB: "1990-01-01"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "name", pe.Field)
}

func TestValidateInput_MissingDOB(t *testing.T) {
	_, err := ValidateInput(Input{Name: "Alice"})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeValidation, pe.Code)
	assert.Equal(t, "dob", pe.Field)
}

func TestValidateInput_MalformedDOB(t *testing.T) {
	tests := []string{"1990/01/01", "01-01-1990", "yesterday", "1990-1-1"}
	for _, dob := range tests {
		t.Run(dob, func(t *testing.T) {
			_, err := ValidateInput(Input{Name: "Alice", DOB: dob})
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestValidateInput_ImpossibleCalendarDate(t *testing.T) {
	_, err := ValidateInput(Input{Name: "Alice", DOB: "1990-02-30"})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "dob", pe.Field)
	assert.Contains(t, pe.Error(), "invalid calendar date")
}

func TestValidatePartial_Empty(t *testing.T) {
	p, err := ValidatePartial(Partial{})
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestValidatePartial_ClearOptionalField(t *testing.T) {
	p, err := ValidatePartial(Partial{Phone: String("  ")})
	require.NoError(t, err)
	require.NotNil(t, p.Phone)
	assert.Equal(t, "", *p.Phone)
}

func TestValidatePartial_RejectsEmptyRequired(t *testing.T) {
	_, err := ValidatePartial(Partial{Name: String("")})
	assert.True(t, IsValidation(err))

	_, err = ValidatePartial(Partial{DOB: String(" ")})
	assert.True(t, IsValidation(err))
}

func TestValidatePartial_RejectsBadDOB(t *testing.T) {
	_, err := ValidatePartial(Partial{DOB: String("2001-13-01")})
	assert.True(t, IsValidation(err))
}

func TestFieldFromPath(t *testing.T) {
	assert.Equal(t, "dob", fieldFromPath([]string{"#PatientInput", "dob"}))
	assert.Equal(t, "", fieldFromPath([]string{"#PatientInput"}))
	assert.Equal(t, "", fieldFromPath(nil))
}
