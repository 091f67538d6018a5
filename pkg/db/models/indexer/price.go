package indexer

import (
	"fmt"
	"strings"
	"time"
)

// Pair is a currency pair written as BASE:QUOTE.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair parses "BASE:QUOTE". Both sides are upper-cased.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), ":")
	base, quote = strings.ToUpper(strings.TrimSpace(base)), strings.ToUpper(strings.TrimSpace(quote))
	if !ok || base == "" || quote == "" || strings.Contains(quote, ":") {
		return Pair{}, fmt.Errorf("invalid pair %q, expected BASE:QUOTE", s)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func (p Pair) String() string {
	return p.Base + ":" + p.Quote
}

// UnmarshalText lets pairs be decoded from YAML and query strings.
func (p *Pair) UnmarshalText(text []byte) error {
	parsed, err := ParsePair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Price is the latest quote for a pair.
type Price struct {
	Pair                Pair      `json:"pair"`
	Bid                 float64   `json:"bid"`
	Ask                 float64   `json:"ask"`
	DailyChangeRelative float64   `json:"daily_change_relative"`
	High                float64   `json:"high"`
	Low                 float64   `json:"low"`
	UpdatedAt           time.Time `json:"updated_at"`
}
