/*

This file defines the records the engine emits for external observers and
indexers. Each record carries principal/token identities and amounts
sufficient to reconstruct ledger state from history.

*/

package types

import (
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies an emitted record.
type EventType string

const (
	EventDeposit                   EventType = "deposit"
	EventWithdraw                  EventType = "withdraw"
	EventBasketUpdated             EventType = "basket_updated"
	EventRebalanceThresholdUpdated EventType = "rebalance_threshold_updated"
	EventAutomationToggled         EventType = "automation_toggled"
	EventRebalanced                EventType = "rebalanced"
	EventSwapPlanned               EventType = "swap_planned"
	EventSwapExecuted              EventType = "swap_executed"
)

// DepositEvent is emitted after a successful deposit.
type DepositEvent struct {
	Principal common.Address `json:"principal"`
	Token     common.Address `json:"token"`
	Amount    sdkmath.Int    `json:"amount"`
}

// WithdrawEvent is emitted after a successful withdrawal.
type WithdrawEvent struct {
	Principal common.Address `json:"principal"`
	Token     common.Address `json:"token"`
	Amount    sdkmath.Int    `json:"amount"`
}

// BasketUpdatedEvent is emitted after a basket write succeeds.
type BasketUpdatedEvent struct {
	Principal common.Address `json:"principal"`
	Entries   Basket         `json:"entries"`
}

// RebalanceThresholdUpdatedEvent is emitted when the deviation threshold changes.
type RebalanceThresholdUpdatedEvent struct {
	Principal    common.Address `json:"principal"`
	OldThreshold int64          `json:"old_threshold"`
	NewThreshold int64          `json:"new_threshold"`
}

// AutomationToggledEvent is emitted when scheduler-triggered rebalancing is
// enabled or disabled.
type AutomationToggledEvent struct {
	Principal common.Address `json:"principal"`
	Enabled   bool           `json:"enabled"`
}

// RebalancedEvent is emitted once per completed rebalance pass.
type RebalancedEvent struct {
	Principal  common.Address `json:"principal"`
	TraceID    string         `json:"trace_id"`
	TotalUSD   sdkmath.Int    `json:"total_usd"`
	TradeCount int            `json:"trade_count"`
}

// SwapPlannedEvent is emitted for every matched seller/buyer pair before
// execution is attempted.
type SwapPlannedEvent struct {
	SellToken common.Address `json:"sell_token"`
	BuyToken  common.Address `json:"buy_token"`
	USDValue  sdkmath.Int    `json:"usd_value"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
}

// SwapExecutedEvent is emitted after the venue confirms a swap.
type SwapExecutedEvent struct {
	Pool      common.Address `json:"pool"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
	AmountOut sdkmath.Int    `json:"amount_out"`
}

// Event is the persisted envelope for any emitted record.
type Event struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	TraceID   string          `json:"trace_id"`
	Payload   json.RawMessage `json:"payload"`
}
