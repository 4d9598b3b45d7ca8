// Package pipeline implements the two-stage concurrent document processing
// pipeline: OCR text extraction (Stage 1) followed by LLM structured
// extraction (Stage 2), bounded by a single hand-off channel, with batch
// lifecycle tracking on top.
package pipeline

import "time"

// DocumentState names the states a single document passes through in the
// engine, from pending through the two stages to one of three terminal
// outcomes. The Engine does not store these values per document or check
// transitions between them.
type DocumentState string

const (
	StatePending        DocumentState = "pending"
	StateStage1Running  DocumentState = "stage1_running"
	StateQueued         DocumentState = "queued"
	StateStage2Running  DocumentState = "stage2_running"
	StateSucceeded      DocumentState = "succeeded"
	StateFailed         DocumentState = "failed"
	StateCancelled      DocumentState = "cancelled"
)

// DocumentError is the optional error recorded on a Document that ended in
// StateFailed or StateCancelled.
type DocumentError struct {
	Kind       ErrorKind
	Diagnostic string
}

// Document is a single unit of work moving through the pipeline.
type Document struct {
	DocumentID string
	BatchID    string
	SourcePath string
	State      DocumentState
	Attempt    int
	Error      *DocumentError
	Extracted  *ExtractedDocument
}

// Clone returns a deep copy of the document, including its error and
// extracted record.
func (d Document) Clone() Document {
	out := d
	if d.Error != nil {
		e := *d.Error
		out.Error = &e
	}
	if d.Extracted != nil {
		e := d.Extracted.Clone()
		out.Extracted = &e
	}
	return out
}

// BatchStatus is the lifecycle status of a Batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

// Batch is a run over a set of documents admitted together.
type Batch struct {
	BatchID             string
	BatchName           string
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	FinishedAt          *time.Time
	Status              BatchStatus
	Total               int
	Succeeded           int
	Failed              int
	Cancelled           int
}

// StageResult is the value handed off from Stage 1 to Stage 2 on the
// bounded channel. It is passed by value (deep copy) so Stage 1 and Stage 2
// never share a mutable pointer.
type StageResult struct {
	DocumentID   string
	BatchID      string
	SourcePath   string
	Text         string
	OCRElapsedMs int64
	OCRPageCount int
}

// PartyRole distinguishes the three kinds of named parties on a deed.
type PartyRole string

const (
	RoleBuyer            PartyRole = "buyer"
	RoleSeller           PartyRole = "seller"
	RoleConfirmingParty  PartyRole = "confirming_party"
)

// Party is one buyer, seller, or confirming party on a document.
type Party struct {
	DocumentID    string
	Role          PartyRole
	Name          string
	FatherName    string
	DateOfBirth   *time.Time
	Aadhaar       *string
	PAN           *string
	PropertyShare string // sellers only
}

// Clone returns a deep copy of the party.
func (p Party) Clone() Party {
	out := p
	if p.DateOfBirth != nil {
		t := *p.DateOfBirth
		out.DateOfBirth = &t
	}
	if p.Aadhaar != nil {
		v := *p.Aadhaar
		out.Aadhaar = &v
	}
	if p.PAN != nil {
		v := *p.PAN
		out.PAN = &v
	}
	return out
}

// Property is the single property record attached to a document.
type Property struct {
	DocumentID         string
	SurveyNumber       string
	Village            string
	Taluk              string
	District           string
	AreaValue          float64
	AreaUnit           string
	ConsiderationValue string // original human-readable monetary string
	MarketValue        string
	StampDuty          string
	RegistrationFee    string
	TotalFee           string
}

// ExtractedDocument is the structured record produced by Stage 2, cleaned
// by a Validator, and persisted by a Repository.
type ExtractedDocument struct {
	DocumentID         string
	BatchID            string
	TransactionDate    time.Time
	RegistrationOffice string
	Property           Property
	Buyers             []Party
	Sellers            []Party
	ConfirmingParties  []Party
}

// Clone returns a deep copy of the extracted document, including its party
// slices.
func (e ExtractedDocument) Clone() ExtractedDocument {
	out := e
	out.Buyers = cloneParties(e.Buyers)
	out.Sellers = cloneParties(e.Sellers)
	out.ConfirmingParties = cloneParties(e.ConfirmingParties)
	return out
}

func cloneParties(in []Party) []Party {
	if in == nil {
		return nil
	}
	out := make([]Party, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
