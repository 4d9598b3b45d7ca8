// Package llm implements the pipeline's StructuredExtractor: turning OCR
// text into a structured ExtractedDocument via a remote LLM HTTP endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kaveri/deedscan/pipeline"
)

// HTTPStructuredExtractor calls a remote LLM completion endpoint and
// decodes its response into an ExtractedDocument. Request pacing is
// enforced client-side via rate.Limiter so a burst of Stage-2 workers
// never exceeds the provider's requests-per-second quota; the provider's
// own 429 responses are still classified as LlmRateLimited on top of that.
type HTTPStructuredExtractor struct {
	client      *http.Client
	endpoint    string
	apiKey      string
	model       string
	limiter     *rate.Limiter
	log         *logrus.Entry
}

// Config configures an HTTPStructuredExtractor.
type Config struct {
	Endpoint           string
	APIKey             string
	Model              string
	RequestsPerSecond  float64
	Burst              int
	HTTPTimeout        time.Duration
}

// NewHTTPStructuredExtractor constructs an HTTPStructuredExtractor. A zero
// RequestsPerSecond disables client-side pacing (relying solely on
// server-side backpressure signalled through HTTP 429).
func NewHTTPStructuredExtractor(cfg Config, log *logrus.Entry) *HTTPStructuredExtractor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPStructuredExtractor{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		limiter:  limiter,
		log:      log.WithField("component", "http_structured_extractor"),
	}
}

type completionRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// rawExtraction mirrors the wire shape the model returns; fields are
// intentionally string-typed where the source document's own formatting
// must be preserved (monetary amounts, dates as written).
type rawExtraction struct {
	TransactionDate    string     `json:"transaction_date"`
	RegistrationOffice string     `json:"registration_office"`
	Property           rawProperty `json:"property"`
	Buyers             []rawParty  `json:"buyers"`
	Sellers            []rawParty  `json:"sellers"`
	ConfirmingParties  []rawParty  `json:"confirming_parties"`
}

type rawProperty struct {
	SurveyNumber       string  `json:"survey_number"`
	Village            string  `json:"village"`
	Taluk              string  `json:"taluk"`
	District           string  `json:"district"`
	AreaValue          float64 `json:"area_value"`
	AreaUnit           string  `json:"area_unit"`
	ConsiderationValue string  `json:"consideration_value"`
	MarketValue        string  `json:"market_value"`
	StampDuty          string  `json:"stamp_duty"`
	RegistrationFee    string  `json:"registration_fee"`
	TotalFee           string  `json:"total_fee"`
}

type rawParty struct {
	Name          string `json:"name"`
	Aadhaar       string `json:"aadhaar"`
	PAN           string `json:"pan"`
	PropertyShare string `json:"property_share"`
}

// Parse sends text to the configured LLM endpoint and decodes the result.
// Errors are classified into the pipeline's closed ErrorKind set so the
// engine can route retryable failures correctly.
func (e *HTTPStructuredExtractor) Parse(ctx context.Context, text string) (pipeline.ExtractedDocument, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmTimeout, "", err)
		}
	}

	body, err := json.Marshal(completionRequest{Model: e.model, Text: text})
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmTimeout, "", err)
		}
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmRateLimited, "", fmt.Errorf("rate limited: %s", respBody))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmTimeout, "", fmt.Errorf("upstream timeout: %s", respBody))
	case resp.StatusCode >= 500:
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", fmt.Errorf("upstream error %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode != http.StatusOK:
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmInvalidShape, "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody))
	}

	var raw rawExtraction
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", fmt.Errorf("decoding response: %w", err))
	}

	doc, err := toExtractedDocument(raw)
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmInvalidShape, "", err)
	}
	return doc, nil
}

func toExtractedDocument(raw rawExtraction) (pipeline.ExtractedDocument, error) {
	txDate, err := parseFlexibleDate(raw.TransactionDate)
	if err != nil {
		return pipeline.ExtractedDocument{}, fmt.Errorf("parsing transaction_date %q: %w", raw.TransactionDate, err)
	}

	return pipeline.ExtractedDocument{
		TransactionDate:    txDate,
		RegistrationOffice: raw.RegistrationOffice,
		Property: pipeline.Property{
			SurveyNumber:       raw.Property.SurveyNumber,
			Village:            raw.Property.Village,
			Taluk:              raw.Property.Taluk,
			District:           raw.Property.District,
			AreaValue:          raw.Property.AreaValue,
			AreaUnit:           raw.Property.AreaUnit,
			ConsiderationValue: raw.Property.ConsiderationValue,
			MarketValue:        raw.Property.MarketValue,
			StampDuty:          raw.Property.StampDuty,
			RegistrationFee:    raw.Property.RegistrationFee,
			TotalFee:           raw.Property.TotalFee,
		},
		Buyers:            toParties(raw.Buyers, pipeline.RoleBuyer),
		Sellers:           toParties(raw.Sellers, pipeline.RoleSeller),
		ConfirmingParties: toParties(raw.ConfirmingParties, pipeline.RoleConfirmingParty),
	}, nil
}

func toParties(raw []rawParty, role pipeline.PartyRole) []pipeline.Party {
	if raw == nil {
		return nil
	}
	out := make([]pipeline.Party, len(raw))
	for i, p := range raw {
		party := pipeline.Party{
			Role:          role,
			Name:          p.Name,
			PropertyShare: p.PropertyShare,
		}
		if p.Aadhaar != "" {
			v := p.Aadhaar
			party.Aadhaar = &v
		}
		if p.PAN != "" {
			v := p.PAN
			party.PAN = &v
		}
		out[i] = party
	}
	return out
}

// parseFlexibleDate tries the handful of date layouts Indian registration
// offices actually stamp documents with.
func parseFlexibleDate(s string) (time.Time, error) {
	layouts := []string{"2006-01-02", "02-01-2006", "02/01/2006", time.RFC3339}
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

var _ pipeline.StructuredExtractor = (*HTTPStructuredExtractor)(nil)
