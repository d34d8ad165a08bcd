package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codebazaar/paygate/pkg/constants"
	"github.com/codebazaar/paygate/pkg/types"
)

type initiateRequest struct {
	PayerWallet string `json:"payerWallet" validate:"required"`
	ProjectID   string `json:"projectId" validate:"required"`
	Tier        string `json:"tier" validate:"required,oneof=demo download"`
}

type initiateResponse struct {
	IntentID  string    `json:"intentId"`
	Amount    uint64    `json:"amount"`
	Recipient string    `json:"recipient"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleInitiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, types.WrapError(types.ErrCodeInvalidRequest, "invalid request body", err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(c, types.WrapError(types.ErrCodeInvalidRequest, "missing or invalid fields", err))
		return
	}

	ctx := c.Request.Context()
	tier := types.Tier(req.Tier)

	quote, err := s.resolver.Resolve(ctx, req.ProjectID, tier)
	if err != nil {
		s.writeError(c, err)
		return
	}

	ttl := s.intent.TTL
	if ttl <= 0 {
		ttl = constants.IntentTTL
	}
	intent, err := s.ledger.CreateIntent(ctx, req.PayerWallet, req.ProjectID, tier, quote.Amount, quote.Recipient, ttl)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, initiateResponse{
		IntentID:  intent.ID,
		Amount:    intent.Amount,
		Recipient: intent.Recipient,
		ExpiresAt: intent.ExpiresAt,
	})
}

type verifyRequest struct {
	IntentID        string `json:"intentId" validate:"required"`
	TransactionHash string `json:"transactionHash" validate:"required"`
	PayerWallet     string `json:"payerWallet" validate:"required"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, types.WrapError(types.ErrCodeInvalidRequest, "invalid request body", err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(c, types.WrapError(types.ErrCodeInvalidRequest, "missing or invalid fields", err))
		return
	}

	outcome, err := s.engine.Verify(c.Request.Context(), req.IntentID, req.TransactionHash, req.PayerWallet)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if outcome.StillPending {
		retryAfter := s.intent.RetryAfterSec
		if retryAfter <= 0 {
			retryAfter = constants.RetryAfterSeconds
		}
		// 202: the chain has not settled the transaction yet. Not an
		// error; the client polls the same endpoint again.
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusAccepted, gin.H{
			"status":            "pending",
			"transactionHash":   outcome.TxHash,
			"retryAfterSeconds": retryAfter,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted":         true,
		"transactionHash": outcome.TxHash,
		"tier":            outcome.Tier,
	})
}

func (s *Server) handleAccess(c *gin.Context) {
	projectID := c.Param("id")
	wallet := c.Query("wallet")
	if wallet == "" {
		s.writeError(c, types.NewError(types.ErrCodeInvalidRequest, "wallet query parameter is required"))
		return
	}

	report, err := s.access.Report(c.Request.Context(), projectID, wallet)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleHealthz(c *gin.Context) {
	chainOK := s.chain != nil && s.chain.Healthy(c.Request.Context())
	status := http.StatusOK
	if !chainOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":         "ok",
		"chainConnected": chainOK,
	})
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error           string   `json:"error"`
	Code            string   `json:"code"`
	Recoverable     bool     `json:"recoverable"`
	ActionableSteps []string `json:"actionableSteps,omitempty"`
}

// writeError maps domain codes onto HTTP statuses. Unknown errors become
// opaque 500s so internal detail never leaks to buyers.
func (s *Server) writeError(c *gin.Context, err error) {
	var de *types.Error
	if !errors.As(err, &de) {
		s.logger.Error("unclassified error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: types.ErrCodeLedgerError})
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case types.ErrCodeInvalidRequest:
		status = http.StatusBadRequest
	case types.ErrCodeProjectNotFound, types.ErrCodeIntentNotFound, types.ErrCodeGrantNotFound:
		status = http.StatusNotFound
	case types.ErrCodeAlreadyHasAccess:
		status = http.StatusConflict
	case types.ErrCodeTxFailed, types.ErrCodeInvalidAmount, types.ErrCodeVerifyFailed:
		status = http.StatusPaymentRequired
	case types.ErrCodeChainUnavailable:
		status = http.StatusServiceUnavailable
	case types.ErrCodeContractError, types.ErrCodeLedgerError:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "code", de.Code, "error", de)
	}

	c.JSON(status, errorBody{
		Error:           de.Message,
		Code:            de.Code,
		Recoverable:     de.Recoverable,
		ActionableSteps: de.ActionableSteps,
	})
}
