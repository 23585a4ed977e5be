// Package orders is the demo toolset: customer order lookup and account
// updates over an injected store.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voicewire/voicewire/pkg/core/types"
	"github.com/voicewire/voicewire/pkg/store"
)

var getCustomerOrdersSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"customer_id": {
			"type": "string",
			"description": "The ID of the customer, e.g. 'c1' or 'c2'"
		}
	},
	"required": ["customer_id"]
}`)

var updateAccountInfoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"customer_id": {
			"type": "string",
			"description": "Customer ID, e.g. 'c1' or 'c2'"
		},
		"new_status": {
			"type": "string",
			"description": "The new account status, e.g. 'Active' or 'Pending'"
		}
	},
	"required": ["customer_id", "new_status"]
}`)

// Registrations returns the toolset bound to st. A customer that does not
// exist produces a normal result carrying a message, not a failed call,
// so the model can answer the user itself.
func Registrations(st store.Store) []types.ToolRegistration {
	return []types.ToolRegistration{
		{
			Name:        "get_customer_orders",
			Description: "Return all products/orders that belong to a given customer",
			Schema:      getCustomerOrdersSchema,
			Handler:     getCustomerOrders(st),
		},
		{
			Name:        "update_account_info",
			Description: "Update a customer's account status to a new value (Active, Pending, etc.)",
			Schema:      updateAccountInfoSchema,
			Handler:     updateAccountInfo(st),
		},
	}
}

type orderResult struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
}

func getCustomerOrders(st store.Store) types.ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params struct {
			CustomerID string `json:"customer_id"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}

		orders, err := st.ListOrders(ctx, params.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return map[string]string{
				"message": fmt.Sprintf("Customer %q not found.", params.CustomerID),
			}, nil
		}
		if err != nil {
			return nil, err
		}

		results := make([]orderResult, 0, len(orders))
		for _, o := range orders {
			results = append(results, orderResult{
				ProductID: o.ProductID,
				Name:      o.Name,
				Price:     o.Price,
				Status:    o.Status,
			})
		}
		return map[string]any{
			"customer_id": params.CustomerID,
			"orders":      results,
		}, nil
	}
}

func updateAccountInfo(st store.Store) types.ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params struct {
			CustomerID string `json:"customer_id"`
			NewStatus  string `json:"new_status"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}

		before, err := st.GetCustomer(ctx, params.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return map[string]string{
				"message": fmt.Sprintf("Customer %q not found.", params.CustomerID),
			}, nil
		}
		if err != nil {
			return nil, err
		}

		updated, err := st.UpdateAccountStatus(ctx, params.CustomerID, params.NewStatus)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"customer_id": updated.ID,
			"old_status":  before.AccountStatus,
			"new_status":  updated.AccountStatus,
		}, nil
	}
}
