/*
wire.go - Request/response shapes for the external funds-transfer system

PURPOSE:
  The bank's settlement API is semi-structured: the response payload is an
  unordered list of (key, value) pairs rather than named fields. This file
  keeps that contract in one place - the instruction builder, the narration
  format, and a typed accessor over the pair list so no call site scans the
  array inline.

WIRE CONTRACT:
  Token request:   system id + credential pair -> short-lived bearer token
  Transfer:        debit (parent) account -> credit (collection) account,
                   amount, currency, narration
  Narration:       CURRENCY|BRANCH|ACCOUNT_STUDENTREF_CORRELATIONID
  Success:         outer code == "000" AND pair TRANSACTION_STATUS == "SUCCESS"
  Reference:       pair CBS_REFERENCE, falling back to TRANSACTION_REFERENCE
*/
package settlement

import (
	"fmt"

	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
)

// =============================================================================
// PROTOCOL CONSTANTS
// =============================================================================

const (
	// ResponseCodeSuccess is the outer code the bank returns on success.
	// The outer code alone is NOT sufficient: TRANSACTION_STATUS must also
	// carry StatusTokenSuccess.
	ResponseCodeSuccess = "000"

	// StatusTokenSuccess is the value of KeyTransactionStatus on a settled
	// transfer.
	StatusTokenSuccess = "SUCCESS"

	KeyTransactionStatus = "TRANSACTION_STATUS"

	// Settlement reference keys, in priority order. Some core-banking
	// versions emit only the second.
	KeySettlementRefPrimary  = "CBS_REFERENCE"
	KeySettlementRefFallback = "TRANSACTION_REFERENCE"
)

// =============================================================================
// TOKEN EXCHANGE
// =============================================================================

type tokenRequest struct {
	SystemID string `json:"systemId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// =============================================================================
// TRANSFER INSTRUCTION
// =============================================================================

// transferRequest is the funds-transfer instruction submitted with the token.
type transferRequest struct {
	SystemID          string `json:"systemId"`
	UserID            string `json:"userId"`
	BranchCode        string `json:"branchCode"`
	SourceAccount     string `json:"sourceAccount"`
	SourceCurrency    string `json:"sourceCurrency"`
	DestAccount       string `json:"destAccount"`
	DestCurrency      string `json:"destCurrency"`
	Amount            string `json:"amount"`
	Narration         string `json:"narration"`
	ExternalReference string `json:"externalReference"`
}

// Narration builds the structured description string the bank requires:
// CURRENCY|BRANCH|ACCOUNT_STUDENTREF_CORRELATIONID. The correlation id lets
// reconciliation tie a bank statement line back to one Payment.
func Narration(scope ledger.Scope, p *payment.Payment) string {
	return fmt.Sprintf("%s|%s|%s_%s_%s",
		p.Currency, scope.BranchCode, scope.CollectionAccount, p.Student, p.CorrelationID)
}

// =============================================================================
// TRANSFER RESPONSE
// =============================================================================

// Pair is one (key, value) entry of the response payload.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the bank's reply: an overall code/message plus an unordered
// association list.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []Pair `json:"fields"`
}

// Value looks up a key in the response payload. The list is unordered and
// may carry keys this system never reads; lookup is by key, never by index.
func (r *Response) Value(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Settled reports whether the response indicates a confirmed settlement.
// BOTH checks are required: an outer success code with a non-success
// transaction status means the transfer was accepted but not settled.
func (r *Response) Settled() bool {
	if r.Code != ResponseCodeSuccess {
		return false
	}
	status, ok := r.Value(KeyTransactionStatus)
	return ok && status == StatusTokenSuccess
}

// SettlementReference reads the reference assigned by the bank, trying the
// primary key first and falling back to the secondary.
func (r *Response) SettlementReference() string {
	if ref, ok := r.Value(KeySettlementRefPrimary); ok && ref != "" {
		return ref
	}
	ref, _ := r.Value(KeySettlementRefFallback)
	return ref
}

// Diagnostic summarizes a non-settled response for the payment's failure
// annotation.
func (r *Response) Diagnostic() string {
	status, _ := r.Value(KeyTransactionStatus)
	return fmt.Sprintf("code=%s status=%s message=%s", r.Code, status, r.Message)
}
