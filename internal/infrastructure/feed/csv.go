package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_backtest/internal/domain"
)

// CSVStream reads candles from a file with columns
// timestamp,open,high,low,close,volume where timestamp is unix seconds.
// A header row is skipped if the first field is not numeric. One record is
// buffered ahead so HasData never consumes a candle.
type CSVStream struct {
	file   *os.File
	reader *csv.Reader
	next   *domain.Candle
	line   int
}

func OpenCSVStream(path string) (*CSVStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	s := &CSVStream{file: f, reader: r}
	if err := s.prefetch(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVStream) Next() (*domain.Candle, error) {
	if s.next == nil {
		return nil, nil
	}
	c := s.next
	if err := s.prefetch(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CSVStream) HasData() bool { return s.next != nil }

func (s *CSVStream) Close() error { return s.file.Close() }

func (s *CSVStream) prefetch() error {
	s.next = nil
	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.line++
		if len(record) < 6 {
			return fmt.Errorf("line %d: expected 6 fields, got %d", s.line, len(record))
		}
		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if s.line == 1 {
				continue // header row
			}
			return fmt.Errorf("line %d: bad timestamp %q", s.line, record[0])
		}
		c := &domain.Candle{Time: time.Unix(ts, 0).UTC()}
		fields := []struct {
			dst   *decimal.Decimal
			value string
		}{
			{&c.Open, record[1]},
			{&c.High, record[2]},
			{&c.Low, record[3]},
			{&c.Close, record[4]},
			{&c.Volume, record[5]},
		}
		for _, f := range fields {
			d, err := decimal.NewFromString(f.value)
			if err != nil {
				return fmt.Errorf("line %d: bad value %q", s.line, f.value)
			}
			*f.dst = d
		}
		s.next = c
		return nil
	}
}
