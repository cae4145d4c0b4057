package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ksred/sdrflow/internal/types"
)

// tradeListPayload mirrors the upstream wire schema. The field names are
// owned by the provider and treated as an opaque contract.
type tradeListPayload struct {
	TradeList []upstreamTrade `json:"tradeList"`
}

type upstreamTrade struct {
	DisseminationIdentifier         string `json:"disseminationIdentifier"`
	OriginalDisseminationIdentifier string `json:"originalDisseminationIdentifier"`
	ActionType                      string `json:"actionType"`
	EventTimestamp                  string `json:"eventTimestamp"`
	EffectiveDate                   string `json:"effectiveDate"`
	ExpirationDate                  string `json:"expirationDate"`
	NotionalCurrencyLeg1            string `json:"notionalCurrencyLeg1"`
	NotionalAmountLeg1              string `json:"notionalAmountLeg1"`
	FixedRateLeg1                   string `json:"fixedRateLeg1"`
	SpreadLeg1                      string `json:"spreadLeg1"`
	Direction                       string `json:"direction"`
}

// toReport converts an upstream record to the internal report shape.
func (u upstreamTrade) toReport() (types.RawTradeReport, error) {
	var report types.RawTradeReport

	if u.DisseminationIdentifier == "" {
		return report, fmt.Errorf("missing dissemination identifier")
	}

	executed, err := parseUpstreamTime(u.EventTimestamp)
	if err != nil {
		return report, fmt.Errorf("event timestamp: %w", err)
	}
	effective, err := parseUpstreamDate(u.EffectiveDate)
	if err != nil {
		return report, fmt.Errorf("effective date: %w", err)
	}

	// Expiration may be absent for some products; keep the zero value.
	maturity, _ := parseUpstreamDate(u.ExpirationDate)

	rateField := u.FixedRateLeg1
	if rateField == "" {
		rateField = u.SpreadLeg1
	}

	report = types.RawTradeReport{
		DisseminationID:         u.DisseminationIdentifier,
		OriginalDisseminationID: u.OriginalDisseminationIdentifier,
		Currency:                strings.ToUpper(strings.TrimSpace(u.NotionalCurrencyLeg1)),
		ExecutionTime:           executed,
		EffectiveDate:           effective,
		MaturityDate:            maturity,
		Notional:                cleanNumeric(u.NotionalAmountLeg1),
		FixedRate:               cleanNumeric(rateField),
		Direction:               normalizeDirection(u.Direction),
		Action:                  normalizeAction(u.ActionType),
	}
	return report, nil
}

// cleanNumeric strips upstream formatting (commas, plus signs, currency and
// percent symbols) before parsing. Unparseable values come back as zero.
func cleanNumeric(value string) float64 {
	s := strings.TrimSpace(value)
	for _, cut := range []string{",", "+", "$", "%"} {
		s = strings.ReplaceAll(s, cut, "")
	}
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func normalizeAction(action string) string {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "CORRECT", "MODI", "MODIFY":
		return types.ActionCorrect
	case "CANCEL", "TERM", "TERMINATE":
		return types.ActionCancel
	default:
		return types.ActionNew
	}
}

func normalizeDirection(direction string) string {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "RECEIVE", "RCV", "R":
		return types.DirectionReceive
	default:
		return types.DirectionPay
	}
}

func parseUpstreamTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func parseUpstreamDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", value)
	}
	return t.UTC(), nil
}
