package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/bcdannyboy/volsmile/config"
	"github.com/bcdannyboy/volsmile/engine"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/bcdannyboy/volsmile/pricing"
	volslack "github.com/bcdannyboy/volsmile/slack"
	"github.com/bcdannyboy/volsmile/tradier"
	"github.com/sirupsen/logrus"
	"github.com/xhhuango/json"
)

// termDays is the horizon of the interpolated ATM volatility in the report.
const termDays = 30

type symbolReport struct {
	Symbol  string           `json:"symbol"`
	ATMTerm float64          `json:"atm_30d,omitempty"`
	Results []*engine.Result `json:"results"`
	Error   string           `json:"error,omitempty"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cal, err := cfg.CalendarEngine()
	if err != nil {
		logger.WithError(err).Fatal("Invalid calendar")
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		logger.WithError(err).Fatal("Invalid engine options")
	}
	store, closeStore, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache store")
	}
	defer closeStore()

	client := tradier.NewClient(cfg.Tradier.Token)
	client.BaseURL = cfg.Tradier.BaseURL
	if loc, err := time.LoadLocation(cfg.Calendar.Timezone); err == nil {
		client.Location = loc
	}

	eng := engine.New(cal, store, pricing.NewBlackScholes(), opts, logger)

	if cfg.Slack.Enabled {
		bot := volslack.NewSlackBot(cfg.Slack.AppToken, cfg.Slack.BotToken, eng, client, logger)
		logger.Info("Serving slash commands")
		if err := bot.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Fatal("Slack bot stopped")
		}
		return
	}

	now := time.Now()
	reports := make([]symbolReport, len(cfg.Run.Symbols))

	var wg sync.WaitGroup
	for i, symbol := range cfg.Run.Symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			reports[i] = runSymbol(ctx, eng, client, symbol, now, cfg.Run.MinDTE, cfg.Run.MaxDTE, logger)
		}(i, symbol)
	}
	wg.Wait()

	out, err := json.Marshal(reports)
	if err != nil {
		logger.WithError(err).Fatal("Error marshalling smiles")
	}
	if err := os.WriteFile(cfg.Run.Output, out, 0644); err != nil {
		logger.WithError(err).WithField("file", cfg.Run.Output).Fatal("Error writing smiles")
	}
	logger.WithField("file", cfg.Run.Output).Infof("Successfully wrote smiles for %d symbols", len(reports))
}

func runSymbol(ctx context.Context, eng *engine.Engine, md engine.MarketData, symbol string, now time.Time, minDTE, maxDTE int, logger *logrus.Logger) symbolReport {
	report := symbolReport{Symbol: symbol}
	log := logger.WithField("symbol", symbol)

	results, err := eng.EvaluateSymbol(ctx, md, symbol, now, minDTE, maxDTE, nil)
	report.Results = results
	if err != nil {
		log.WithError(err).Error("Failed to evaluate smiles")
		report.Error = err.Error()
		return report
	}

	var smiles []*models.Smile
	for _, res := range results {
		if res.Smile == nil {
			continue
		}
		smiles = append(smiles, res.Smile)
		if atm, err := res.Smile.ATM(); err == nil {
			log.WithFields(logrus.Fields{
				"expiry": res.Expiry.Format("2006-01-02"),
				"source": res.Source.String(),
				"atm":    atm,
			}).Info("Smile ready")
		}
	}

	surface := models.NewVolatilitySurface(smiles...)
	if len(surface.Smiles) > 0 {
		spot := surface.Smiles[0].Underlying
		model := eng.Options().Model
		if eng.Options().Rescale {
			model = calendar.Calendar
		}
		horizon := eng.Calendar().Time(now.AddDate(0, 0, termDays), now, model).Years
		if vol, err := surface.Vol(spot, horizon); err == nil {
			report.ATMTerm = vol
		}
	}
	return report
}
