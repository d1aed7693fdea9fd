package rewards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/nhatrang-rewards/rewards/internal/ledger"
)

func setupHandlerApp(t *testing.T) (*fiber.App, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc)
	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/users/register", h.Register)
	api.Get("/users/:phone", h.GetUser)
	api.Post("/users/:phone/points", h.CreditUser)
	api.Post("/accounts/:accountId/points", h.CreditAccount)
	api.Get("/accounts/:accountId/balance", h.AccountBalance)
	api.Get("/operator/balance", h.OperatorBalance)
	return app, f
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func TestHandlerRegisterAndCredit(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/users/register", `{"phone":"0901234567","name":"Lan"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	if body["success"] != true || body["transaction_id"] == "" {
		t.Fatalf("unexpected register body %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/users/register", `{"phone":"0901234567"}`)
	if status != http.StatusOK || body["existing"] != true {
		t.Fatalf("expected existing registration, got %d: %v", status, body)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/users/0901234567/points", `{"points":"1000"}`)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["new_balance"].(float64) != 1050 || body["partner_id"] != defaultPhonePartner {
		t.Fatalf("unexpected credit body %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/users/0901234567", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	user := body["user"].(map[string]any)
	if len(user["transactions"].([]any)) != 2 {
		t.Fatalf("expected two transactions, got %v", user["transactions"])
	}

	path := "/api/v1/accounts/" + user["account_id"].(string) + "/balance"
	status, body = doJSON(t, app, fiber.MethodGet, path, "")
	if status != http.StatusOK || body["balance"].(float64) < 1050 {
		t.Fatalf("unexpected balance response %d: %v", status, body)
	}
}

func TestHandlerErrorStatuses(t *testing.T) {
	app, f := setupHandlerApp(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing phone", fiber.MethodPost, "/api/v1/users/register", `{"name":"x"}`, http.StatusBadRequest},
		{"unknown user", fiber.MethodGet, "/api/v1/users/0000", "", http.StatusNotFound},
		{"credit unknown user", fiber.MethodPost, "/api/v1/users/0000/points", `{"points":10}`, http.StatusNotFound},
		{"zero points", fiber.MethodPost, "/api/v1/users/0000/points", `{"points":0}`, http.StatusBadRequest},
		{"missing points", fiber.MethodPost, "/api/v1/accounts/0.0.1001/points", `{}`, http.StatusBadRequest},
		{"malformed body", fiber.MethodPost, "/api/v1/users/register", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		status, body := doJSON(t, app, tc.method, tc.path, tc.body)
		if status != tc.want {
			t.Fatalf("%s: expected %d, got %d: %v", tc.name, tc.want, status, body)
		}
		if body["success"] != false || body["message"] == "" {
			t.Fatalf("%s: expected failure envelope, got %v", tc.name, body)
		}
	}
	if calls := f.net.Calls(ledger.OpTransfer); calls != 0 {
		t.Fatalf("expected no transfers from rejected requests, got %d", calls)
	}
}

func TestHandlerProvisioningFailureIsBadGateway(t *testing.T) {
	app, f := setupHandlerApp(t)
	f.net.FailNext(ledger.OpAssociateToken, ledger.ErrInvalidSignature, ledger.ErrInvalidSignature, ledger.ErrInvalidSignature)

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/users/register", `{"phone":"0901234567"}`)
	if status != http.StatusBadGateway || body["error"] != "provision" {
		t.Fatalf("expected 502 provision failure, got %d: %v", status, body)
	}
}

func TestHandlerOperatorBalance(t *testing.T) {
	app, _ := setupHandlerApp(t)
	status, body := doJSON(t, app, fiber.MethodGet, "/api/v1/operator/balance", "")
	if status != http.StatusOK || body["balance"].(float64) != 1_000_000 {
		t.Fatalf("unexpected operator balance %d: %v", status, body)
	}
}

func TestHandlerMarksCommittedResponses(t *testing.T) {
	app, f := setupHandlerApp(t)
	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/users/register", `{"phone":"0901234567"}`)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	account := body["user"].(map[string]any)["account_id"].(string)
	f.net.FailNext(ledger.OpBalance, errors.New("timeout"))

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/accounts/"+account+"/points", strings.NewReader(`{"points":100}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("credit account: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderTransactionID) == "" {
		t.Fatalf("expected the issued transfer id header on a failed read-back")
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/users/0000/points", strings.NewReader(`{"points":100}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("credit unknown: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(HeaderTransactionID) != "" {
		t.Fatalf("expected no transfer id when nothing was issued")
	}
}

func TestCommittedReadsResponseHeader(t *testing.T) {
	app := fiber.New()
	var seen []bool
	app.Post("/", func(c *fiber.Ctx) error {
		seen = append(seen, Committed(c))
		c.Set(HeaderTransactionID, "0.0.2@1.1")
		seen = append(seen, Committed(c))
		return c.SendStatus(http.StatusOK)
	})
	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Fatalf("unexpected committed readings %v", seen)
	}
}
