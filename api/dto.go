/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are sent as decimal strings with two places ("1000.00"). Requests
  accept either a JSON number or a string.

DATES:
  Issue, due and payment dates are calendar days (YYYY-MM-DD). Timestamps
  are RFC 3339.

VALIDATION:
  Request shape is checked with go-playground/validator struct tags before
  the request reaches billing. Business rules (amount <= outstanding
  balance, one pending payment) stay in billing.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateInvoiceRequest is the body of POST /api/invoices.
type CreateInvoiceRequest struct {
	LeaseID   string          `json:"leaseId" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	IssueDate string          `json:"issueDate" validate:"required,datetime=2006-01-02"`
	DueDate   string          `json:"dueDate" validate:"required,datetime=2006-01-02"`
}

// PaymentRequest is the body of POST /api/payments and /api/payments/tenant.
type PaymentRequest struct {
	InvoiceID   string          `json:"invoiceId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"` // defaults to today
	Method      string          `json:"method" validate:"required,oneof=bank_transfer cash cheque"`
	Notes       string          `json:"notes" validate:"max=1000"`
}

// DecisionRequest is the body of PUT /api/payments/{id}/approve.
type DecisionRequest struct {
	Approved       *bool  `json:"approved" validate:"required"`
	ReasonOfReject string `json:"reasonOfReject" validate:"max=1000"`
}

// CreateLeaseRequest is the body of POST /api/leases.
type CreateLeaseRequest struct {
	TenantID    string          `json:"tenantId" validate:"required"`
	UnitLabel   string          `json:"unitLabel" validate:"max=100"`
	MonthlyRent decimal.Decimal `json:"monthlyRent"`
	BillingDay  int             `json:"billingDay" validate:"min=1,max=28"`
	StartDate   string          `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate     string          `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID                   string  `json:"id"`
	LeaseID              string  `json:"leaseId"`
	Amount               string  `json:"amount"`
	PaidAmount           string  `json:"paidAmount"`
	OutstandingBalance   string  `json:"outstandingBalance"`
	IssueDate            string  `json:"issueDate"`
	DueDate              string  `json:"dueDate"`
	Status               string  `json:"status"`
	OverdueReminderCount int     `json:"overdueReminderCount"`
	LastReminderSentAt   *string `json:"lastReminderSentAt,omitempty"`
	CreatedAt            string  `json:"createdAt"`
	UpdatedAt            string  `json:"updatedAt"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID             string  `json:"id"`
	InvoiceID      string  `json:"invoiceId"`
	Amount         string  `json:"amount"`
	PaymentDate    string  `json:"paymentDate"`
	Method         string  `json:"method"`
	Status         string  `json:"status"`
	SubmittedBy    string  `json:"submittedBy"`
	ReviewerID     string  `json:"reviewerId,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	ReasonOfReject string  `json:"reasonOfReject,omitempty"`
	ProofURL       string  `json:"proofUrl,omitempty"`
	ReviewedAt     *string `json:"reviewedAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

// LeaseDTO represents a lease in API responses.
type LeaseDTO struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenantId"`
	UnitLabel     string  `json:"unitLabel"`
	MonthlyRent   string  `json:"monthlyRent"`
	BillingDay    int     `json:"billingDay"`
	StartDate     string  `json:"startDate"`
	EndDate       *string `json:"endDate,omitempty"`
	Status        string  `json:"status"`
	BilledThrough *string `json:"billedThrough,omitempty"`
}

// NotificationDTO is one inbox entry.
type NotificationDTO struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Message   string  `json:"message"`
	Kind      string  `json:"kind"`
	CreatedAt string  `json:"createdAt"`
	ReadAt    *string `json:"readAt,omitempty"`
}

// DecisionResponse is returned by the approve endpoint.
type DecisionResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ReminderResponse is returned by the send-reminder endpoint.
type ReminderResponse struct {
	OverdueReminderCount int `json:"overdueReminderCount"`
}

// ProofResponse is returned by the proof upload endpoint.
type ProofResponse struct {
	ProofURL string `json:"proofUrl"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:                   inv.ID,
		LeaseID:              inv.LeaseID,
		Amount:               inv.Amount.StringFixed(2),
		PaidAmount:           inv.PaidAmount.StringFixed(2),
		OutstandingBalance:   inv.OutstandingBalance().StringFixed(2),
		IssueDate:            inv.IssueDate.Format(dateLayout),
		DueDate:              inv.DueDate.Format(dateLayout),
		Status:               string(inv.Status),
		OverdueReminderCount: inv.OverdueReminderCount,
		LastReminderSentAt:   timePtr(inv.LastReminderSentAt, time.RFC3339),
		CreatedAt:            inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            inv.UpdatedAt.Format(time.RFC3339),
	}
}

func toInvoiceDTOs(invoices []billing.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             p.ID,
		InvoiceID:      p.InvoiceID,
		Amount:         p.Amount.StringFixed(2),
		PaymentDate:    p.PaymentDate.Format(dateLayout),
		Method:         string(p.Method),
		Status:         string(p.Status),
		SubmittedBy:    p.SubmittedBy,
		ReviewerID:     p.ReviewerID,
		Notes:          p.Notes,
		ReasonOfReject: p.ReasonOfReject,
		ProofURL:       p.ProofURL,
		ReviewedAt:     timePtr(p.ReviewedAt, time.RFC3339),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTOs(payments []billing.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toLeaseDTO(l billing.Lease) LeaseDTO {
	return LeaseDTO{
		ID:            l.ID,
		TenantID:      l.TenantID,
		UnitLabel:     l.UnitLabel,
		MonthlyRent:   l.MonthlyRent.StringFixed(2),
		BillingDay:    l.BillingDay,
		StartDate:     l.StartDate.Format(dateLayout),
		EndDate:       timePtr(l.EndDate, dateLayout),
		Status:        string(l.Status),
		BilledThrough: timePtr(l.BilledThrough, dateLayout),
	}
}

func toNotificationDTO(n sqlite.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		Kind:      string(n.Kind),
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		ReadAt:    timePtr(n.ReadAt, time.RFC3339),
	}
}

func timePtr(t *time.Time, layout string) *string {
	if t == nil {
		return nil
	}
	s := t.Format(layout)
	return &s
}

// parseDate parses a YYYY-MM-DD field. Empty input returns the zero time.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &billing.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	}
	return t, nil
}

// =============================================================================
// DECODING AND VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON decodes a request body into dst and validates it. Failures are
// returned as billing.ValidationError so writeServiceError maps them to 400.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &billing.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return validateStruct(dst)
}

func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &billing.ValidationError{Field: fe.Field(), Message: describeTag(fe)}
	}
	return &billing.ValidationError{Message: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
