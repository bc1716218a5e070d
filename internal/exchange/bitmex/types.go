package bitmex

import "encoding/json"

// envelope sniffs the discriminating fields of an inbound frame. Table
// messages carry data rows; everything else is a control frame (welcome,
// subscribe ack, error).
type envelope struct {
	Info      json.RawMessage `json:"info"`
	Subscribe string          `json:"subscribe"`
	Success   *bool           `json:"success"`
	Status    int             `json:"status"`
	Error     string          `json:"error"`
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
}

type subscribeRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type tradeRow struct {
	Timestamp string  `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
}

type quoteRow struct {
	Timestamp string  `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	BidPrice  float64 `json:"bidPrice"`
	BidSize   float64 `json:"bidSize"`
	AskPrice  float64 `json:"askPrice"`
	AskSize   float64 `json:"askSize"`
}

// book10Row is a ten-level depth snapshot. Levels are [price, size] pairs.
type book10Row struct {
	Symbol    string      `json:"symbol"`
	Bids      [][]float64 `json:"bids"`
	Asks      [][]float64 `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// bookL2Row is one order-level book entry. Update and delete actions omit
// the price; the order id locates the entry.
type bookL2Row struct {
	Symbol string  `json:"symbol"`
	ID     int64   `json:"id"`
	Side   string  `json:"side"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
}

type fundingRow struct {
	Timestamp        string  `json:"timestamp"`
	Symbol           string  `json:"symbol"`
	FundingInterval  string  `json:"fundingInterval"`
	FundingRate      float64 `json:"fundingRate"`
	FundingRateDaily float64 `json:"fundingRateDaily"`
}

type orderRow struct {
	OrderID   string  `json:"orderID"`
	Symbol    string  `json:"symbol"`
	OrdStatus string  `json:"ordStatus"`
	AvgPx     float64 `json:"avgPx"`
	CumQty    float64 `json:"cumQty"`
}

type positionRow struct {
	Symbol           string  `json:"symbol"`
	AvgEntryPrice    float64 `json:"avgEntryPrice"`
	SimpleCost       float64 `json:"simpleCost"`
	SimpleQty        float64 `json:"simpleQty"`
	SimplePnlPcnt    float64 `json:"simplePnlPcnt"`
	MarkPrice        float64 `json:"markPrice"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	Timestamp        string  `json:"timestamp"`
}
