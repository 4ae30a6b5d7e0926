// Package upstream is the typed client for the back-office REST API. It knows
// the endpoint paths and response aliases; transport, auth and envelope
// handling live in the gateway.
package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/gateway"
)

// Doer is the authenticated transport the client rides on.
type Doer interface {
	Do(ctx context.Context, method, path string, body any) ([]byte, error)
}

type Client struct {
	gw Doer
}

func NewClient(gw Doer) *Client {
	return &Client{gw: gw}
}

// Scope identifies whose reference data is being fetched.
type Scope struct {
	CompanyID string
	BranchID  string
}

func (s Scope) query() string {
	q := url.Values{}
	if s.CompanyID != "" {
		q.Set("companyId", s.CompanyID)
	}
	if s.BranchID != "" {
		q.Set("branchId", s.BranchID)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) fetchCollection(ctx context.Context, path string, scope Scope, aliases ...string) (json.RawMessage, error) {
	body, err := c.gw.Do(ctx, http.MethodGet, path+scope.query(), nil)
	if err != nil {
		return nil, err
	}
	return gateway.UnwrapCollection(body, aliases...)
}

func (c *Client) MenuItems(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/menu-items", scope, "menuItems", "items")
}

func (c *Client) Categories(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/categories", scope, "categories")
}

func (c *Client) PaymentMethods(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/payment-methods", scope, "paymentMethods", "methods")
}

func (c *Client) Staff(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/staff", scope, "staff", "users")
}

func (c *Client) AvailableTables(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/tables/available", scope, "tables")
}

func (c *Client) DeliveryZones(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/delivery-zones", scope, "deliveryZones", "zones")
}

func (c *Client) Customers(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return c.fetchCollection(ctx, "/customers", scope, "customers")
}

// POSSettings is the one single-entity reference fetch; everything else is a
// collection.
func (c *Client) POSSettings(ctx context.Context, scope Scope) (json.RawMessage, error) {
	body, err := c.gw.Do(ctx, http.MethodGet, "/pos-settings"+scope.query(), nil)
	if err != nil {
		return nil, err
	}
	return gateway.UnwrapEntity(body)
}

// CreateOrder replays a queued order. The payload is sent exactly as it was
// enqueued.
func (c *Client) CreateOrder(ctx context.Context, payload json.RawMessage) error {
	_, err := c.gw.Do(ctx, http.MethodPost, "/orders", payload)
	return err
}

// ProcessPayment replays a queued standalone payment.
func (c *Client) ProcessPayment(ctx context.Context, payload json.RawMessage) error {
	_, err := c.gw.Do(ctx, http.MethodPost, "/payments/process", payload)
	return err
}
