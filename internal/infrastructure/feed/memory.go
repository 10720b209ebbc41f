package feed

import "github.com/vitos/crypto_backtest/internal/domain"

// MemoryStream replays a fixed slice of candles. Exhausted once; a second
// iteration yields nothing.
type MemoryStream struct {
	candles []*domain.Candle
	pos     int
}

func NewMemoryStream(candles []*domain.Candle) *MemoryStream {
	return &MemoryStream{candles: candles}
}

func (s *MemoryStream) Next() (*domain.Candle, error) {
	if s.pos >= len(s.candles) {
		return nil, nil
	}
	c := s.candles[s.pos]
	s.pos++
	return c, nil
}

func (s *MemoryStream) HasData() bool {
	return s.pos < len(s.candles)
}
