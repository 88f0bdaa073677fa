package possync

import (
	"encoding/json"
)

type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

type CursorState struct {
	Sales CursorEntry `json:"sales"`
}

func DecodeCursorState(raw []byte) CursorState {
	if len(raw) == 0 {
		return CursorState{}
	}
	var state CursorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	b, _ := json.Marshal(state)
	return b
}

type StatusResponse struct {
	Source            string      `json:"source"`
	LastSyncAt        *string     `json:"lastSyncAt"`
	LastSuccessSyncAt *string     `json:"lastSuccessSyncAt"`
	Cursor            CursorState `json:"cursor"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint           `json:"id"`
	Source        string         `json:"source"`
	Status        string         `json:"status"`
	StartedAt     *string        `json:"startedAt"`
	FinishedAt    *string        `json:"finishedAt"`
	DurationMs    int64          `json:"durationMs"`
	RecordsSynced int            `json:"recordsSynced"`
	ErrorCount    int            `json:"errorCount"`
	TriggeredBy   string         `json:"triggeredBy"`
	Stats         map[string]int `json:"stats,omitempty"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId  uint   `json:"run_id"`
	Source string `json:"source"`
}

// POS wire records. Numbers arrive as strings or numbers depending on the
// endpoint, so they are decoded as json.Number.

type posSale struct {
	ID         string        `json:"id"`
	SaleNumber string        `json:"sale_number"`
	SaleDate   string        `json:"sale_date"`
	SaleStatus string        `json:"sale_status"`
	Items      []posSaleItem `json:"items"`
	Taxes      []posAmount   `json:"taxes"`
	Discounts  []posAmount   `json:"discounts"`
	UpdatedAt  string        `json:"updated_at"`
}

type posSaleItem struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Quantity  json.Number   `json:"quantity"`
	UnitPrice json.Number   `json:"unit_price"`
	NetAmount json.Number   `json:"net_amount"`
	Modifiers []posModifier `json:"modifiers"`
}

// posModifier is an add-on rung up on a sale item.
type posModifier struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Quantity  json.Number `json:"quantity"`
	UnitPrice json.Number `json:"unit_price"`
}

type posAmount struct {
	Name   string      `json:"name"`
	Amount json.Number `json:"amount"`
}
