// Package stream keeps hot pairs warm in the aggregator's cache from a
// combined-streams market data WebSocket feed.
package stream

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// WSRequest is a WebSocket subscription request.
type WSRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// WSResponse is a WebSocket subscription response.
type WSResponse struct {
	Result json.RawMessage `json:"result"`
	ID     int64           `json:"id"`
}

// StreamEvent is the base wrapper for all combined-stream messages.
type StreamEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BookTickerEvent is a best bid/ask update.
// Stream: <symbol>@bookTicker
type BookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// Mid returns the midpoint of best bid and ask.
func (e *BookTickerEvent) Mid() (decimal.Decimal, error) {
	bid, err := decimal.NewFromString(e.BidPrice)
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := decimal.NewFromString(e.AskPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
}

// PartialDepthEvent is a top-of-book snapshot.
// Stream: <symbol>@depth20@100ms. The payload carries no symbol; it is
// recovered from the stream name.
type PartialDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
	Symbol       string     `json:"-"`
}

// BidNotional sums price*qty over the bid levels. Unparseable or zero
// levels are skipped.
func BidNotional(raw [][]string) decimal.Decimal {
	total := decimal.Zero
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		price, perr := decimal.NewFromString(level[0])
		qty, qerr := decimal.NewFromString(level[1])
		if perr != nil || qerr != nil || qty.IsZero() {
			continue
		}
		total = total.Add(price.Mul(qty))
	}
	return total
}

// BookTickerStream returns the bookTicker stream name for a symbol.
func BookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// DepthStream returns the partial book depth stream name for a symbol.
func DepthStream(symbol string, speedMs int) string {
	return strings.ToLower(symbol) + "@depth20@" + strconv.Itoa(speedMs) + "ms"
}

// symbolFromStream recovers the uppercase symbol from a stream name.
// "ethusdc@depth20@100ms" becomes "ETHUSDC".
func symbolFromStream(stream string) string {
	if idx := strings.Index(stream, "@"); idx > 0 {
		return strings.ToUpper(stream[:idx])
	}
	return strings.ToUpper(stream)
}
