// Package intent parses user commands, both a strict JSON structured form
// and a small natural-language command grammar, into types.Intent: try JSON
// first, fall through to regex-based text parsing.
package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Parser turns raw command text into a types.Intent.
type Parser struct {
	logger *zap.Logger
}

// NewParser constructs an Intent parser.
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("intent-parser")}
}

// structuredCommand is the strict JSON command shape accepted over the API.
type structuredCommand struct {
	Action      string   `json:"action"`
	Symbol      string   `json:"symbol"`
	RiskPercent *float64 `json:"riskPercent,omitempty"`
	Leverage    *int     `json:"leverage,omitempty"`
	SLRule      string   `json:"slRule,omitempty"`
	SLPrice     *float64 `json:"slPrice,omitempty"`
	TPRule      string   `json:"tpRule,omitempty"`
	TPPrice     *float64 `json:"tpPrice,omitempty"`
	RewardToRisk *float64 `json:"rewardToRisk,omitempty"`
	TrailMode   string   `json:"trailMode,omitempty"`
	PartialClosePercent *float64 `json:"partialClosePercent,omitempty"`
	LimitPrice  *float64 `json:"limitPrice,omitempty"`
}

// Parse tries the structured JSON form first, falling back to the
// natural-language grammar when the input is not valid JSON.
func (p *Parser) Parse(raw string) (types.Intent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.Intent{}, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(raw, "{") {
		intent, err := p.parseStructured(raw)
		if err == nil {
			return intent, nil
		}
		p.logger.Debug("structured parse failed, falling back to text grammar", zap.Error(err))
	}

	return p.parseText(raw)
}

func (p *Parser) parseStructured(raw string) (types.Intent, error) {
	var cmd structuredCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return types.Intent{}, fmt.Errorf("invalid json command: %w", err)
	}
	if cmd.Action == "" {
		return types.Intent{}, fmt.Errorf("command missing action")
	}

	action, ok := parseAction(cmd.Action)
	if !ok {
		return types.Intent{}, fmt.Errorf("unknown action %q", cmd.Action)
	}

	intent := types.Intent{
		Action:    action,
		Symbol:    strings.ToUpper(cmd.Symbol),
		SLRule:    types.SLRule(strings.ToUpper(cmd.SLRule)),
		TPRule:    types.TPRule(strings.ToUpper(cmd.TPRule)),
		TrailMode: types.TrailMode(strings.ToUpper(cmd.TrailMode)),
		RawText:   raw,
	}
	if cmd.RiskPercent != nil {
		v := decimal.NewFromFloat(*cmd.RiskPercent)
		intent.RiskPercent = &v
	}
	intent.Leverage = cmd.Leverage
	if cmd.SLPrice != nil {
		v := decimal.NewFromFloat(*cmd.SLPrice)
		intent.SLPrice = &v
	}
	if cmd.TPPrice != nil {
		v := decimal.NewFromFloat(*cmd.TPPrice)
		intent.TPPrice = &v
	}
	if cmd.RewardToRisk != nil {
		v := decimal.NewFromFloat(*cmd.RewardToRisk)
		intent.RewardToRisk = &v
	}
	if cmd.PartialClosePercent != nil {
		v := decimal.NewFromFloat(*cmd.PartialClosePercent)
		intent.PartialClosePercent = &v
	}
	if cmd.LimitPrice != nil {
		v := decimal.NewFromFloat(*cmd.LimitPrice)
		intent.LimitPrice = &v
	}
	return intent, nil
}

var (
	symbolRegex   = regexp.MustCompile(`(?i)\b([A-Z]{2,10}USDT?)\b`)
	riskRegex     = regexp.MustCompile(`(?i)risk\s*[:=]?\s*(\d+\.?\d*)\s*%?`)
	leverageRegex = regexp.MustCompile(`(?i)(\d+)\s*x\b`)
	slRegex       = regexp.MustCompile(`(?i)\bsl\s*[:=]?\s*\$?(\d+\.?\d*)`)
	tpRegex       = regexp.MustCompile(`(?i)\btp\s*[:=]?\s*\$?(\d+\.?\d*)`)
	rrRegex       = regexp.MustCompile(`(?i)\brr\s*[:=]?\s*(\d+\.?\d*)`)
	percentRegex  = regexp.MustCompile(`(?i)\b(\d+\.?\d*)\s*%`)
)

// parseText implements a small, forgiving command grammar:
//
//	LONG BTCUSDT risk=1% sl=swing lev=5x
//	SHORT ETHUSDT sl=62000 tp=rr:2
//	CLOSE BTCUSDT
//	CLOSE BTCUSDT 50%
//	PAUSE / RESUME
func (p *Parser) parseText(raw string) (types.Intent, error) {
	upper := strings.ToUpper(raw)
	fields := strings.Fields(upper)
	if len(fields) == 0 {
		return types.Intent{}, fmt.Errorf("empty command")
	}

	action, ok := parseAction(fields[0])
	if !ok {
		return types.Intent{}, fmt.Errorf("unrecognized command %q", raw)
	}

	intent := types.Intent{Action: action, RawText: raw}

	if m := symbolRegex.FindString(upper); m != "" {
		intent.Symbol = m
	} else if action != types.IntentPause && action != types.IntentResume {
		return types.Intent{}, fmt.Errorf("no symbol found in command %q", raw)
	}

	if m := riskRegex.FindStringSubmatch(raw); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v := decimal.NewFromFloat(f)
			intent.RiskPercent = &v
		}
	}
	if m := leverageRegex.FindStringSubmatch(raw); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			intent.Leverage = &n
		}
	}
	if m := slRegex.FindStringSubmatch(raw); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v := decimal.NewFromFloat(f)
			intent.SLPrice = &v
			intent.SLRule = types.SLRulePrice
		}
	} else if strings.Contains(upper, "SL=SWING") || strings.Contains(upper, "SL:SWING") {
		intent.SLRule = types.SLRuleSwing
	} else if strings.Contains(upper, "SL=SUPERTREND") || strings.Contains(upper, "SL:SUPERTREND") {
		intent.SLRule = types.SLRuleSupertrend
	}
	if m := tpRegex.FindStringSubmatch(raw); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v := decimal.NewFromFloat(f)
			intent.TPPrice = &v
			intent.TPRule = types.TPRulePrice
		}
	}
	if m := rrRegex.FindStringSubmatch(raw); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v := decimal.NewFromFloat(f)
			intent.RewardToRisk = &v
			intent.TPRule = types.TPRuleRR
		}
	}
	if action == types.IntentClose || action == types.IntentClosePartial {
		if m := percentRegex.FindStringSubmatch(raw); len(m) == 2 {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				v := decimal.NewFromFloat(f)
				intent.PartialClosePercent = &v
				intent.Action = types.IntentClosePartial
			}
		}
	}

	return intent, nil
}

func parseAction(s string) (types.IntentAction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "ENTER_LONG", "BUY":
		return types.IntentEnterLong, true
	case "SHORT", "ENTER_SHORT", "SELL":
		return types.IntentEnterShort, true
	case "CLOSE":
		return types.IntentClose, true
	case "CLOSE_PARTIAL", "PARTIAL_CLOSE":
		return types.IntentClosePartial, true
	case "CANCEL", "CANCEL_ORDER":
		return types.IntentCancelOrder, true
	case "MOVE_SL", "SL":
		return types.IntentMoveSL, true
	case "SET_TP", "TP":
		return types.IntentSetTP, true
	case "SET_TRAIL", "TRAIL":
		return types.IntentSetTrail, true
	case "PAUSE":
		return types.IntentPause, true
	case "RESUME":
		return types.IntentResume, true
	case "WATCH", "WATCH_CREATE":
		return types.IntentWatchCreate, true
	case "WATCH_CANCEL", "UNWATCH":
		return types.IntentWatchCancel, true
	case "OPINION", "THOUGHTS":
		return types.IntentOpinion, true
	case "INFO", "STATUS":
		return types.IntentInfo, true
	default:
		return types.IntentUnknown, false
	}
}
