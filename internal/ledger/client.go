// Package ledger implements the ports.Ledger adapter for the registry
// gateway node: submit a signed attestation, poll its transaction until the
// chain confirms or reverts it, and read the registry's validity flag.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"attestor/internal/attestation"
	"attestor/internal/verification/ports"
	"attestor/pkg/domain"
)

// Config holds the gateway endpoint and the bounded waits. Both timeouts are
// hard correctness requirements: an unbounded wait would leave a record
// pending indefinitely.
type Config struct {
	BaseURL        string
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Client talks to the registry gateway over HTTP. It implements ports.Ledger.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.SubmitTimeout},
		logger: logger,
	}
}

type submitRequest struct {
	Subject   string `json:"subject"`
	Digest    string `json:"digest"`
	Expiry    int64  `json:"expiry"`
	Signature string `json:"signature"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

// SubmitAttestation posts the signed attestation and returns the transaction
// reference. Every rejection, local or remote, wraps
// ports.ErrSubmissionRejected.
func (c *Client) SubmitAttestation(ctx context.Context, subject domain.Address, digest attestation.Digest, expiry int64, signature []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	payload, err := json.Marshal(submitRequest{
		Subject:   subject.String(),
		Digest:    digest.Hex(),
		Expiry:    expiry,
		Signature: "0x" + hex.EncodeToString(signature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ports.ErrSubmissionRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/attestations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ports.ErrSubmissionRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrSubmissionRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: gateway returned %d: %s", ports.ErrSubmissionRejected, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ports.ErrSubmissionRejected, err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: gateway returned empty tx ref", ports.ErrSubmissionRejected)
	}
	return out.TxRef, nil
}

type txStatusResponse struct {
	Status string `json:"status"`
}

// AwaitConfirmation polls the transaction until the gateway reports a
// terminal status or the bounded wait elapses, which maps to
// ports.ErrConfirmationTimeout.
func (c *Client) AwaitConfirmation(ctx context.Context, txRef string) (ports.ConfirmationStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.transactionStatus(ctx, txRef)
		if err == nil {
			switch status {
			case "confirmed":
				return ports.ConfirmationConfirmed, nil
			case "reverted":
				return ports.ConfirmationReverted, nil
			}
		} else if c.logger != nil {
			c.logger.WarnContext(ctx, "transaction status poll failed",
				"tx_ref", txRef,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: tx %s", ports.ErrConfirmationTimeout, txRef)
		case <-ticker.C:
		}
	}
}

func (c *Client) transactionStatus(ctx context.Context, txRef string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/transactions/"+txRef, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	var out txStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	return out.Status, nil
}

type validityResponse struct {
	Valid bool `json:"valid"`
}

// IsValid reads the registry's validity flag for an identity. Reconciliation
// tooling only; the issuance path never calls this.
func (c *Client) IsValid(ctx context.Context, subject domain.Address) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/identities/"+subject.String()+"/valid", nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("read validity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	var out validityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode validity: %w", err)
	}
	return out.Valid, nil
}
