package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaveri/deedscan/pipeline"
)

func strPtr(s string) *string { return &s }

func TestClean_NullsInvalidAadhaarAndPAN(t *testing.T) {
	doc := &pipeline.ExtractedDocument{
		Buyers: []pipeline.Party{
			{Name: "Ramesh Kumar", Aadhaar: strPtr("12345"), PAN: strPtr("NOTVALID")},
		},
	}
	v := NewDocumentValidator(nil)
	require.NoError(t, v.Clean(context.Background(), doc))

	assert.Nil(t, doc.Buyers[0].Aadhaar)
	assert.Nil(t, doc.Buyers[0].PAN)
}

func TestClean_KeepsValidAadhaarAndPAN(t *testing.T) {
	doc := &pipeline.ExtractedDocument{
		Buyers: []pipeline.Party{
			{Name: "Ramesh Kumar", Aadhaar: strPtr("123456789012"), PAN: strPtr("ABCDE1234F")},
		},
	}
	v := NewDocumentValidator(nil)
	require.NoError(t, v.Clean(context.Background(), doc))

	require.NotNil(t, doc.Buyers[0].Aadhaar)
	assert.Equal(t, "123456789012", *doc.Buyers[0].Aadhaar)
	require.NotNil(t, doc.Buyers[0].PAN)
	assert.Equal(t, "ABCDE1234F", *doc.Buyers[0].PAN)
}

func TestClean_ExtractsFatherNameFromMarkers(t *testing.T) {
	cases := []struct {
		name   string
		expect string
	}{
		{"Ramesh Kumar S/O Suresh Rao", "Suresh Rao"},
		{"Lakshmi D/O Venkatesh", "Venkatesh"},
		{"Geetha W/O Manjunath", "Manjunath"},
		{"ರಮೇಶ್ ಮಗ ಸುರೇಶ್", "ಸುರೇಶ್"},
	}
	v := NewDocumentValidator(nil)
	for _, c := range cases {
		doc := &pipeline.ExtractedDocument{Buyers: []pipeline.Party{{Name: c.name}}}
		require.NoError(t, v.Clean(context.Background(), doc))
		assert.Equal(t, c.expect, doc.Buyers[0].FatherName, c.name)
	}
}

func TestClean_ExtractsDateOfBirth(t *testing.T) {
	doc := &pipeline.ExtractedDocument{
		Sellers: []pipeline.Party{{Name: "Suresh Rao S/O Venkatesh, DOB: 12-04-1980"}},
	}
	v := NewDocumentValidator(nil)
	require.NoError(t, v.Clean(context.Background(), doc))

	require.NotNil(t, doc.Sellers[0].DateOfBirth)
	assert.Equal(t, 1980, doc.Sellers[0].DateOfBirth.Year())
	assert.Equal(t, "Venkatesh", doc.Sellers[0].FatherName)
}

func TestClean_RegistrationFeeCrossCheck(t *testing.T) {
	cases := []struct {
		name        string
		regFee      string
		totalFee    string
		expectEmpty bool
	}{
		{"too few digits", "5", "10000", true},
		{"exact ratio of 1.0", "10000", "10000", true},
		{"plausible distinct fee", "5000", "50000", false},
	}
	v := NewDocumentValidator(nil)
	for _, c := range cases {
		doc := &pipeline.ExtractedDocument{
			Property: pipeline.Property{RegistrationFee: c.regFee, TotalFee: c.totalFee},
		}
		require.NoError(t, v.Clean(context.Background(), doc))
		if c.expectEmpty {
			assert.Empty(t, doc.Property.RegistrationFee, c.name)
		} else {
			assert.NotEmpty(t, doc.Property.RegistrationFee, c.name)
		}
	}
}

func TestNormalizeMonetary_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "Rs. 5,00,000/-", normalizeMonetary("  Rs.   5,00,000/-  "))
}
