/*
gateway.go - Settlement gateway driving bank-channel payments to a terminal state

PURPOSE:
  Integrates with the external funds-transfer system. One Settle call:
    1. Exchange the configured credential pair for a short-lived bearer token
    2. Submit the transfer instruction (debit parent, credit collection
       account) with the token attached
    3. Interpret the key/value response
    4. COMPLETED + ledger applied on confirmed settlement; FAILED + diagnostic
       on anything else

  Step 4 is the ONLY point at which bank-channel funds affect the visible
  balance: the ledger reflects confirmed settlement, never attempted
  settlement.

CONCURRENCY:
  Each call is a blocking network round-trip with a bounded timeout. A slow
  endpoint ties up the caller for the full window, so the gateway bounds the
  number of in-flight calls with a fixed-size slot pool instead of allowing
  unbounded fan-out.

ERROR PROPAGATION:
  Failures are recorded on the payment AND returned to the caller. There is
  no background retry; a retry means the caller creates a new Payment or
  explicitly re-drives a PENDING one.

SEE ALSO:
  - wire.go: request/response shapes and the narration format
  - payment/processor.go: hands PENDING bank payments here
*/
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
)

// =============================================================================
// CONFIG & COLLABORATORS
// =============================================================================

// Config holds the settlement system's endpoint and credentials.
type Config struct {
	BaseURL  string
	SystemID string
	Username string
	Password string

	// Timeout bounds one round-trip. Applied to the HTTP client.
	Timeout time.Duration

	// MaxInFlight bounds concurrent settlement calls.
	MaxInFlight int
}

// Finalizer persists a payment transition and, on success, the updated fee
// record in one database transaction. Implemented by the sqlite store.
type Finalizer interface {
	FinalizePayment(ctx context.Context, p payment.Payment, rec *ledger.FeeRecord) error
}

// =============================================================================
// GATEWAY
// =============================================================================

type Gateway struct {
	cfg    Config
	client *http.Client
	store  Finalizer

	// slots is the fixed-size pool bounding in-flight calls.
	slots chan struct{}
}

func NewGateway(cfg Config, store Finalizer) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 8
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		store:  store,
		slots:  make(chan struct{}, cfg.MaxInFlight),
	}
}

// Settle drives a PENDING payment to a terminal state.
//
// On confirmed settlement the payment transitions to COMPLETED, its
// settlement reference is set, and ApplyPayment runs on the linked record.
// On declined settlement or any transport/parsing failure the payment
// transitions to FAILED with a diagnostic and the ledger is untouched; the
// error is also returned to the caller.
//
// Repeated calls for a payment already in a terminal state are rejected with
// ledger.ErrAlreadyFinalized before any network traffic.
func (g *Gateway) Settle(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error {
	if p.Status.Terminal() {
		return ledger.ErrAlreadyFinalized
	}

	select {
	case g.slots <- struct{}{}:
		defer func() { <-g.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	resp, err := g.submit(ctx, scope, p)
	if err != nil {
		return g.fail(ctx, p, err)
	}

	if !resp.Settled() {
		return g.fail(ctx, p, fmt.Errorf("%w: %s", ledger.ErrSettlement, resp.Diagnostic()))
	}

	// Apply the ledger before moving the status: a rejected ApplyPayment must
	// still be able to drive the PENDING payment to FAILED.
	updated, err := ledger.ApplyPayment(rec, p.Amount)
	if err != nil {
		// The amount was validated before the payment row was created;
		// reaching this means the record mutated out from under us.
		return g.fail(ctx, p, err)
	}

	if err := p.Transition(payment.StatusCompleted); err != nil {
		return err
	}
	p.SettlementRef = resp.SettlementReference()
	p.UpdatedAt = time.Now().UTC()

	if err := g.store.FinalizePayment(ctx, *p, &updated); err != nil {
		return err
	}

	log.Printf("[Settlement] completed payment %s ref=%s amount=%s %s",
		p.ID, p.SettlementRef, p.Amount, p.Currency)
	return nil
}

// fail transitions the payment to FAILED, records the diagnostic, persists,
// and propagates the original error. The fee record is never touched.
func (g *Gateway) fail(ctx context.Context, p *payment.Payment, cause error) error {
	if terr := p.Transition(payment.StatusFailed); terr != nil {
		return terr
	}
	p.FailureReason = cause.Error()
	p.UpdatedAt = time.Now().UTC()

	if err := g.store.FinalizePayment(ctx, *p, nil); err != nil {
		return err
	}

	log.Printf("[Settlement] failed payment %s: %v", p.ID, cause)
	return cause
}

// =============================================================================
// HTTP ROUND-TRIPS
// =============================================================================

// acquireToken exchanges the credential pair for a short-lived bearer token.
func (g *Gateway) acquireToken(ctx context.Context) (string, error) {
	body := tokenRequest{
		SystemID: g.cfg.SystemID,
		Username: g.cfg.Username,
		Password: g.cfg.Password,
	}

	var resp tokenResponse
	if err := g.post(ctx, "/auth/token", "", body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrAuthFailure, err)
	}
	if resp.Code != ResponseCodeSuccess || resp.Token == "" {
		return "", fmt.Errorf("%w: code=%s message=%s", ledger.ErrAuthFailure, resp.Code, resp.Message)
	}
	return resp.Token, nil
}

// submit acquires a token and posts the transfer instruction.
func (g *Gateway) submit(ctx context.Context, scope ledger.Scope, p *payment.Payment) (*Response, error) {
	token, err := g.acquireToken(ctx)
	if err != nil {
		return nil, err
	}

	req := transferRequest{
		SystemID:          g.cfg.SystemID,
		UserID:            g.cfg.Username,
		BranchCode:        scope.BranchCode,
		SourceAccount:     p.SourceAccount,
		SourceCurrency:    string(p.Currency),
		DestAccount:       scope.CollectionAccount,
		DestCurrency:      string(p.Currency),
		Amount:            p.Amount.String(),
		Narration:         Narration(scope, p),
		ExternalReference: p.ExternalRef,
	}

	var resp Response
	if err := g.post(ctx, "/transfers", token, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrSettlement, err)
	}
	return &resp, nil
}

func (g *Gateway) post(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", httpResp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}
