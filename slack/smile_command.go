package volslack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bcdannyboy/volsmile/engine"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const smileUsage = "Usage: /smile <symbol> <yyyy-MM-dd> [call|put:<strike>:<qty> ...]"

// Evaluator computes the smile of one expiry.
type Evaluator interface {
	EvaluateExpiry(ctx context.Context, md engine.MarketData, symbol string, expiry, now time.Time, pos *models.Position) (*engine.Result, error)
}

// Market is a market data source that also knows the settlement instant of
// an expiration date.
type Market interface {
	engine.MarketData
	ExpiryTime(date string) (time.Time, error)
}

type SmileHandler struct {
	eval   Evaluator
	market Market
	logger *logrus.Logger
}

func NewSmileHandler(eval Evaluator, market Market, logger *logrus.Logger) *SmileHandler {
	return &SmileHandler{eval: eval, market: market, logger: logger}
}

type smileArgs struct {
	symbol string
	date   string
	legs   []models.PositionStrike
}

func parseSmileArgs(text string) (smileArgs, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return smileArgs{}, errors.New("invalid number of arguments")
	}
	args := smileArgs{symbol: strings.ToUpper(fields[0]), date: fields[1]}
	if _, err := time.Parse("2006-01-02", args.date); err != nil {
		return smileArgs{}, fmt.Errorf("invalid expiration %q", args.date)
	}

	byStrike := make(map[float64]int)
	for _, f := range fields[2:] {
		parts := strings.Split(f, ":")
		if len(parts) != 3 {
			return smileArgs{}, fmt.Errorf("invalid leg %q", f)
		}
		strike, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || strike <= 0 {
			return smileArgs{}, fmt.Errorf("invalid strike in %q", f)
		}
		qty, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return smileArgs{}, fmt.Errorf("invalid quantity in %q", f)
		}

		i, ok := byStrike[strike]
		if !ok {
			i = len(args.legs)
			byStrike[strike] = i
			args.legs = append(args.legs, models.PositionStrike{Strike: strike})
		}
		switch strings.ToLower(parts[0]) {
		case "call", "c":
			args.legs[i].Call += qty
		case "put", "p":
			args.legs[i].Put += qty
		default:
			return smileArgs{}, fmt.Errorf("invalid option type in %q", f)
		}
	}
	return args, nil
}

func (h *SmileHandler) HandleCommand(ctx context.Context, data slack.SlashCommand, client *socketmode.Client) error {
	args, err := parseSmileArgs(data.Text)
	if err != nil {
		_, _, err := client.PostMessage(data.ChannelID,
			slack.MsgOptionText(fmt.Sprintf("%v. %s", err, smileUsage), false))
		return err
	}

	_, ts, err := client.PostMessage(data.ChannelID,
		slack.MsgOptionText(fmt.Sprintf("Building the %s %s smile...", args.symbol, args.date), false))
	if err != nil {
		return err
	}

	go h.run(ctx, client, data.ChannelID, ts, args)
	return nil
}

func (h *SmileHandler) run(ctx context.Context, client *socketmode.Client, channelID, timestamp string, args smileArgs) {
	text := h.evaluate(ctx, args)
	if _, _, err := client.PostMessage(channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(timestamp)); err != nil {
		h.logger.WithError(err).Warn("Failed to post smile")
	}
}

func (h *SmileHandler) evaluate(ctx context.Context, args smileArgs) string {
	expiry, err := h.market.ExpiryTime(args.date)
	if err != nil {
		return err.Error()
	}
	var pos *models.Position
	if len(args.legs) > 0 {
		pos = &models.Position{Symbol: args.symbol, Expiry: expiry, Strikes: args.legs}
	}
	res, err := h.eval.EvaluateExpiry(ctx, h.market, args.symbol, expiry, time.Now(), pos)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"symbol": args.symbol, "expiry": args.date}).WithError(err).Warn("Smile evaluation failed")
		return fmt.Sprintf("No smile for %s %s: %v", args.symbol, args.date, err)
	}
	return formatResult(res)
}

func formatResult(res *engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s, T=%.4fy)\n", res.Symbol, res.Expiry.Format("2006-01-02"), res.Source, res.Smile.TimeToExpiry)
	if atm, err := res.Smile.ATM(); err == nil {
		fmt.Fprintf(&b, "ATM vol: %.2f%%\n", atm*100)
	}
	if skew, err := res.Smile.Skew(); err == nil {
		fmt.Fprintf(&b, "Skew: %.6f per strike\n", skew)
	}
	if res.Greeks != nil {
		fmt.Fprintf(&b, "Vega: %.4f\nTheta: %.4f per day\nVomma: %.4f\n", res.Greeks.Vega, res.Greeks.Theta.PerDay, res.Greeks.Vomma)
		fmt.Fprintf(&b, "Vega hedge: %+d ATM calls\n", res.Greeks.VegaHedgeLots)
	}
	return strings.TrimRight(b.String(), "\n")
}
