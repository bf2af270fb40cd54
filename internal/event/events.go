package event

import (
	"encoding/json"
	"fmt"
	"time"

	"droc_go/pkg/quant"

	"github.com/google/uuid"
)

// Type defines the type of event.
type Type uint16

const (
	EvMarketInitialized Type = iota + 1
	EvVaultInitialized
	EvDeposit
	EvSubmit
	EvMatch
	EvJITRequest
	EvJITConfirm
	EvJITReject
	EvFill
	EvPrune
	EvRewardDistributed
)

var typeNames = map[Type]string{
	EvMarketInitialized: "market_initialized",
	EvVaultInitialized:  "vault_initialized",
	EvDeposit:           "deposit",
	EvSubmit:            "submit",
	EvMatch:             "match",
	EvJITRequest:        "jit_request",
	EvJITConfirm:        "jit_confirm",
	EvJITReject:         "jit_reject",
	EvFill:              "fill",
	EvPrune:             "prune",
	EvRewardDistributed: "reward_distributed",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

// Event is the interface for all journal events.
type Event interface {
	GetSeq() uint64
	GetID() string
	GetSlot() quant.Slot
	GetTs() int64
	GetType() Type
	// Stamp assigns the journal sequence number.
	Stamp(seq uint64)
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq  uint64     `json:"seq"`
	ID   string     `json:"id"`
	Slot quant.Slot `json:"slot"`
	Ts   int64      `json:"ts"` // wall clock, unix micros
}

// NewBase stamps a fresh event id at the given clock reading.
func NewBase(slot quant.Slot, wall time.Time) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), Slot: slot, Ts: wall.UnixMicro()}
}

func (e BaseEvent) GetSeq() uint64      { return e.Seq }
func (e BaseEvent) GetID() string       { return e.ID }
func (e BaseEvent) GetSlot() quant.Slot { return e.Slot }
func (e BaseEvent) GetTs() int64        { return e.Ts }
func (e *BaseEvent) Stamp(seq uint64)   { e.Seq = seq }

type MarketInitializedEvent struct {
	BaseEvent
	MarketID   string `json:"market_id"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Oracle     string `json:"oracle"`
}

func (e MarketInitializedEvent) GetType() Type { return EvMarketInitialized }

type VaultInitializedEvent struct {
	BaseEvent
	VaultID   string `json:"vault_id"`
	Authority string `json:"authority"`
}

func (e VaultInitializedEvent) GetType() Type { return EvVaultInitialized }

type DepositEvent struct {
	BaseEvent
	VaultID       string       `json:"vault_id"`
	Depositor     string       `json:"depositor"`
	Amount        quant.Amount `json:"amount"`
	TotalDeposits quant.Amount `json:"total_deposits"`
}

func (e DepositEvent) GetType() Type { return EvDeposit }

// SubmitEvent is emitted when a commitment becomes live.
type SubmitEvent struct {
	BaseEvent
	CommitmentID string       `json:"commitment_id"`
	Maker        string       `json:"maker"`
	MarketID     string       `json:"market_id"`
	Side         string       `json:"side"`
	Price        quant.Ticks  `json:"price"`
	Size         quant.Units  `json:"size"`
	Expiry       quant.Slot   `json:"expiry"`
	Collateral   quant.Amount `json:"collateral"`
	JITEnabled   bool         `json:"jit_enabled"`
	OraclePrice  quant.Ticks  `json:"oracle_price"`
}

func (e SubmitEvent) GetType() Type { return EvSubmit }

// MatchEvent records an accepted taker match before any JIT decision.
type MatchEvent struct {
	BaseEvent
	CommitmentID string      `json:"commitment_id"`
	Taker        string      `json:"taker"`
	Size         quant.Units `json:"size"`
	Deferred     bool        `json:"deferred"`
}

func (e MatchEvent) GetType() Type { return EvMatch }

// JITRequestEvent asks the maker to confirm a pending match before Deadline.
type JITRequestEvent struct {
	BaseEvent
	CommitmentID string      `json:"commitment_id"`
	Maker        string      `json:"maker"`
	Taker        string      `json:"taker"`
	Size         quant.Units `json:"size"`
	Deadline     quant.Slot  `json:"deadline"`
}

func (e JITRequestEvent) GetType() Type { return EvJITRequest }

type JITConfirmEvent struct {
	BaseEvent
	CommitmentID string      `json:"commitment_id"`
	Taker        string      `json:"taker"`
	Size         quant.Units `json:"size"`
	Price        quant.Ticks `json:"price"`
}

func (e JITConfirmEvent) GetType() Type { return EvJITConfirm }

type JITRejectEvent struct {
	BaseEvent
	CommitmentID string      `json:"commitment_id"`
	Taker        string      `json:"taker"`
	Size         quant.Units `json:"size"`
}

func (e JITRejectEvent) GetType() Type { return EvJITReject }

// FillEvent records a settled quantity. Completed is set when the
// commitment was destroyed and its collateral released.
type FillEvent struct {
	BaseEvent
	CommitmentID       string       `json:"commitment_id"`
	Taker              string       `json:"taker"`
	Size               quant.Units  `json:"size"`
	Price              quant.Ticks  `json:"price"`
	Remaining          quant.Units  `json:"remaining"`
	Completed          bool         `json:"completed"`
	CollateralReleased quant.Amount `json:"collateral_released"`
}

func (e FillEvent) GetType() Type { return EvFill }

type PruneEvent struct {
	BaseEvent
	CommitmentID       string       `json:"commitment_id"`
	Maker              string       `json:"maker"`
	CollateralReleased quant.Amount `json:"collateral_released"`
}

func (e PruneEvent) GetType() Type { return EvPrune }

type RewardDistributedEvent struct {
	BaseEvent
	CommitmentID string       `json:"commitment_id"`
	Maker        string       `json:"maker"`
	Amount       quant.Amount `json:"amount"`
	Balance      quant.Amount `json:"balance"`
	Final        bool         `json:"final"`
}

func (e RewardDistributedEvent) GetType() Type { return EvRewardDistributed }

// Decode rebuilds a journaled event from its type tag and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case EvMarketInitialized:
		ev = &MarketInitializedEvent{}
	case EvVaultInitialized:
		ev = &VaultInitializedEvent{}
	case EvDeposit:
		ev = &DepositEvent{}
	case EvSubmit:
		ev = &SubmitEvent{}
	case EvMatch:
		ev = &MatchEvent{}
	case EvJITRequest:
		ev = &JITRequestEvent{}
	case EvJITConfirm:
		ev = &JITConfirmEvent{}
	case EvJITReject:
		ev = &JITRejectEvent{}
	case EvFill:
		ev = &FillEvent{}
	case EvPrune:
		ev = &PruneEvent{}
	case EvRewardDistributed:
		ev = &RewardDistributedEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
