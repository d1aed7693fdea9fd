package rewards

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/users"
)

const (
	defaultPhonePartner   = "qr_scanner"
	defaultAccountPartner = "system"
)

// HeaderTransactionID is set on every response whose request issued a ledger transfer,
// including error responses returned after the transfer went through.
const HeaderTransactionID = "X-Transaction-ID"

// Committed reports whether the response being written records an issued ledger transfer.
// Such a response must be replayed for a repeated request, never re-executed.
func Committed(c *fiber.Ctx) bool {
	return len(c.Response().Header.Peek(HeaderTransactionID)) > 0
}

// Handler exposes the loyalty endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a rewards HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type creditRequest struct {
	Points    json.Number `json:"points"`
	PartnerID string      `json:"partner_id"`
}

type userResponse struct {
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	AccountID    string    `json:"account_id"`
	Points       int64     `json:"points"`
	Transactions []string  `json:"transactions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toUserResponse(u users.User) userResponse {
	txs := u.Transactions
	if txs == nil {
		txs = []string{}
	}
	return userResponse{
		Phone:        u.Phone,
		Name:         u.Name,
		AccountID:    u.AccountID,
		Points:       u.Points,
		Transactions: txs,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// Register enrols a member, or returns the existing record for a known phone.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.Validation("invalid request body"))
	}
	reg, err := h.service.RegisterUser(c.UserContext(), RegisterInput{Phone: req.Phone, Name: req.Name})
	if err != nil {
		return failCommitted(c, err, reg.TransactionID, reg.PlaceholderTxID)
	}
	if reg.Existing {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"success":  true,
			"message":  "user already registered",
			"existing": true,
			"user":     toUserResponse(reg.User),
		})
	}
	c.Set(HeaderTransactionID, reg.TransactionID)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success":                    true,
		"message":                    "user registered",
		"existing":                   false,
		"user":                       toUserResponse(reg.User),
		"welcome_bonus":              reg.WelcomeBonus,
		"transaction_id":             reg.TransactionID,
		"transaction_id_placeholder": reg.PlaceholderTxID,
	})
}

// GetUser returns the member registered under the phone path parameter.
func (h *Handler) GetUser(c *fiber.Ctx) error {
	member, err := h.service.FindByPhone(c.UserContext(), c.Params("phone"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "user found",
		"user":    toUserResponse(member),
	})
}

// CreditUser awards points to a registered member.
func (h *Handler) CreditUser(c *fiber.Ctx) error {
	points, partner, err := parseCredit(c, defaultPhonePartner)
	if err != nil {
		return fail(c, err)
	}
	credit, err := h.service.CreditByPhone(c.UserContext(), c.Params("phone"), points)
	if err != nil {
		return failCommitted(c, err, credit.TransactionID, credit.PlaceholderTxID)
	}
	c.Set(HeaderTransactionID, credit.TransactionID)
	return c.JSON(fiber.Map{
		"success":                    true,
		"message":                    "points credited",
		"partner_id":                 partner,
		"points":                     credit.Points,
		"new_balance":                credit.User.Points,
		"transaction_id":             credit.TransactionID,
		"transaction_id_placeholder": credit.PlaceholderTxID,
		"user":                       toUserResponse(credit.User),
	})
}

// CreditAccount awards points directly to a ledger account.
func (h *Handler) CreditAccount(c *fiber.Ctx) error {
	points, partner, err := parseCredit(c, defaultAccountPartner)
	if err != nil {
		return fail(c, err)
	}
	result, err := h.service.CreditAccount(c.UserContext(), c.Params("accountId"), points)
	if err != nil {
		return failCommitted(c, err, result.TransactionID, result.PlaceholderTxID)
	}
	c.Set(HeaderTransactionID, result.TransactionID)
	return c.JSON(fiber.Map{
		"success":                    true,
		"message":                    "points credited",
		"partner_id":                 partner,
		"account_id":                 result.AccountID,
		"points":                     result.Points,
		"new_balance":                result.NewBalance,
		"transaction_id":             result.TransactionID,
		"transaction_id_placeholder": result.PlaceholderTxID,
	})
}

// AccountBalance reports the reward token balance of a ledger account.
func (h *Handler) AccountBalance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.service.Balance(c.UserContext(), accountID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "balance retrieved",
		"account_id": accountID,
		"balance":    balance,
	})
}

// OperatorBalance reports the remaining reward token supply.
func (h *Handler) OperatorBalance(c *fiber.Ctx) error {
	balance, err := h.service.OperatorBalance(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "operator balance retrieved",
		"balance": balance,
	})
}

func parseCredit(c *fiber.Ctx, defaultPartner string) (int64, string, error) {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, "", apperr.Validation("invalid request body")
	}
	points, err := ParsePoints(req.Points.String())
	if err != nil {
		return 0, "", err
	}
	partner := strings.TrimSpace(req.PartnerID)
	if partner == "" {
		partner = defaultPartner
	}
	return points, partner, nil
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
		"error":   apperr.KindOf(err).String(),
	})
}

// failCommitted reports err, keeping the id of a transfer that completed before it.
func failCommitted(c *fiber.Ctx, err error, txID string, placeholder bool) error {
	if txID == "" {
		return fail(c, err)
	}
	c.Set(HeaderTransactionID, txID)
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"success":                    false,
		"message":                    err.Error(),
		"error":                      apperr.KindOf(err).String(),
		"transaction_id":             txID,
		"transaction_id_placeholder": placeholder,
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindProvision, apperr.KindTransfer, apperr.KindQuery:
		return http.StatusBadGateway
	case apperr.KindConnect:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
