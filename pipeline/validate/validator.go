// Package validate implements the pipeline's Validator: cleaning a
// freshly-parsed ExtractedDocument before it is persisted.
package validate

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/pipeline"
)

var (
	aadhaarPattern = regexp.MustCompile(`^[0-9]{12}$`)
	panPattern     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

	// relationMarker matches S/O, D/O, W/O and their Kannada equivalents,
	// capturing the name that follows up to the next comma or end of string.
	relationMarker = regexp.MustCompile(`(?i)(?:S/O|D/O|W/O|ಮಗಳು|ಮಗ|ಪತ್ನಿ)\.?\s*([^,]+)`)

	dobMarker = regexp.MustCompile(`(?i)DOB[:\s]*([0-9]{1,2}[-/][0-9]{1,2}[-/][0-9]{2,4})`)

	digitsOnly = regexp.MustCompile(`[0-9]`)
)

// DocumentValidator implements pipeline.Validator. Grounded on the
// field-level sanitization style in common/utils.go (small, single-purpose
// helper functions composed by one Clean entry point) rather than a
// generic validation-tag library — none of the pack's examples use a
// struct-tag validator (go-playground/validator or similar) for this kind
// of domain-specific, cross-field cleaning.
type DocumentValidator struct {
	log *logrus.Entry
}

// NewDocumentValidator constructs a DocumentValidator.
func NewDocumentValidator(log *logrus.Entry) *DocumentValidator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DocumentValidator{log: log.WithField("component", "document_validator")}
}

// Clean normalizes monetary strings, validates Aadhaar/PAN shape (nulling
// only the offending field), cross-checks registration_fee against
// total_fee, and extracts father_name/date_of_birth from party name
// strings. See spec §4.D.4 step 3.
func (v *DocumentValidator) Clean(ctx context.Context, doc *pipeline.ExtractedDocument) error {
	doc.Property.ConsiderationValue = normalizeMonetary(doc.Property.ConsiderationValue)
	doc.Property.MarketValue = normalizeMonetary(doc.Property.MarketValue)
	doc.Property.StampDuty = normalizeMonetary(doc.Property.StampDuty)
	doc.Property.RegistrationFee = normalizeMonetary(doc.Property.RegistrationFee)
	doc.Property.TotalFee = normalizeMonetary(doc.Property.TotalFee)

	crossCheckRegistrationFee(&doc.Property)

	cleanParties(doc.Buyers)
	cleanParties(doc.Sellers)
	cleanParties(doc.ConfirmingParties)

	return nil
}

// normalizeMonetary trims incidental whitespace while preserving the
// original human-readable form (currency symbols, Indian digit grouping,
// "Lakhs"/"Crores" suffixes are left exactly as extracted).
func normalizeMonetary(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// crossCheckRegistrationFee nulls registration_fee when it cannot be
// trusted against total_fee: a registration_fee / total_fee ratio of
// exactly 1.0, or fewer than 3 digits in registration_fee.
func crossCheckRegistrationFee(p *pipeline.Property) {
	regDigits := digitsOnly.FindAllString(p.RegistrationFee, -1)
	if len(regDigits) < 3 {
		p.RegistrationFee = ""
		return
	}

	regVal, regErr := strconv.ParseFloat(strings.Join(regDigits, ""), 64)
	totalDigits := digitsOnly.FindAllString(p.TotalFee, -1)
	totalVal, totalErr := strconv.ParseFloat(strings.Join(totalDigits, ""), 64)

	if regErr == nil && totalErr == nil && totalVal != 0 {
		ratio := regVal / totalVal
		if ratio == 1.0 {
			p.RegistrationFee = ""
		}
	}
}

func cleanParties(parties []pipeline.Party) {
	for i := range parties {
		cleanParty(&parties[i])
	}
}

func cleanParty(p *pipeline.Party) {
	if p.Aadhaar != nil && !aadhaarPattern.MatchString(*p.Aadhaar) {
		p.Aadhaar = nil
	}
	if p.PAN != nil && !panPattern.MatchString(strings.ToUpper(*p.PAN)) {
		p.PAN = nil
	}

	if m := relationMarker.FindStringSubmatch(p.Name); m != nil {
		p.FatherName = strings.TrimSpace(m[1])
	}

	if m := dobMarker.FindStringSubmatch(p.Name); m != nil {
		if t, err := parseIndianDate(m[1]); err == nil {
			p.DateOfBirth = &t
		}
	}
}

func parseIndianDate(s string) (time.Time, error) {
	s = strings.ReplaceAll(s, "/", "-")
	layouts := []string{"02-01-2006", "2-1-2006", "02-01-06"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

var _ pipeline.Validator = (*DocumentValidator)(nil)
