package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar for a fixed time interval.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// CandleStream is a finite, forward-only sequence of candles with strictly
// increasing timestamps. Next returns (nil, nil) once the stream is drained;
// a drained stream stays drained. Next may block while the underlying source
// loads more data.
type CandleStream interface {
	Next() (*Candle, error)
	// HasData reports whether more candles may be available without
	// consuming one.
	HasData() bool
}
