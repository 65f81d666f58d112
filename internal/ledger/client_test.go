package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attestor/internal/attestation"
	"attestor/internal/verification/ports"
	"attestor/pkg/domain"
)

type ClientSuite struct {
	suite.Suite
	subject domain.Address
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupSuite() {
	var err error
	s.subject, err = domain.ParseAddress("0x2222222222222222222222222222222222222222")
	s.Require().NoError(err)
}

func (s *ClientSuite) newClient(baseURL string) *Client {
	return New(Config{
		BaseURL:        baseURL,
		SubmitTimeout:  2 * time.Second,
		ConfirmTimeout: 500 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
	}, nil)
}

func (s *ClientSuite) TestSubmitAttestation() {
	s.Run("returns tx ref and sends the complete payload", func() {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Equal(http.MethodPost, r.Method)
			s.Equal("/v1/attestations", r.URL.Path)
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{"tx_ref": "0xabc123"})
		}))
		defer srv.Close()

		digest := attestation.Digest{0x01, 0x02}
		txRef, err := s.newClient(srv.URL).SubmitAttestation(context.Background(), s.subject, digest, 1767225600, []byte{0xde, 0xad})
		s.Require().NoError(err)
		s.Equal("0xabc123", txRef)

		s.Equal(s.subject.String(), got["subject"])
		s.Equal(digest.Hex(), got["digest"])
		s.Equal(float64(1767225600), got["expiry"])
		s.Equal("0xdead", got["signature"])
	})

	s.Run("gateway rejection wraps ErrSubmissionRejected", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nonce too low", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		_, err := s.newClient(srv.URL).SubmitAttestation(context.Background(), s.subject, attestation.Digest{}, 1, nil)
		s.Require().ErrorIs(err, ports.ErrSubmissionRejected)
	})

	s.Run("unreachable gateway wraps ErrSubmissionRejected", func() {
		_, err := s.newClient("http://127.0.0.1:1").SubmitAttestation(context.Background(), s.subject, attestation.Digest{}, 1, nil)
		s.Require().ErrorIs(err, ports.ErrSubmissionRejected)
	})
}

func (s *ClientSuite) TestAwaitConfirmation() {
	s.Run("polls until confirmed", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("/v1/transactions/0xabc", r.URL.Path)
			status := "pending"
			if calls.Add(1) >= 3 {
				status = "confirmed"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		}))
		defer srv.Close()

		status, err := s.newClient(srv.URL).AwaitConfirmation(context.Background(), "0xabc")
		s.Require().NoError(err)
		s.Equal(ports.ConfirmationConfirmed, status)
		s.GreaterOrEqual(calls.Load(), int32(3))
	})

	s.Run("reports reverted", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "reverted"})
		}))
		defer srv.Close()

		status, err := s.newClient(srv.URL).AwaitConfirmation(context.Background(), "0xabc")
		s.Require().NoError(err)
		s.Equal(ports.ConfirmationReverted, status)
	})

	s.Run("bounded wait ends in ErrConfirmationTimeout", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
		}))
		defer srv.Close()

		_, err := s.newClient(srv.URL).AwaitConfirmation(context.Background(), "0xabc")
		s.Require().ErrorIs(err, ports.ErrConfirmationTimeout)
	})
}

func (s *ClientSuite) TestIsValid() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/v1/identities/"+s.subject.String()+"/valid", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]bool{"valid": true})
	}))
	defer srv.Close()

	valid, err := s.newClient(srv.URL).IsValid(context.Background(), s.subject)
	s.Require().NoError(err)
	s.True(valid)
}
