package volslack

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

type SlackBot struct {
	client       *slack.Client
	socketClient *socketmode.Client
	eventHandler *Handler
	logger       *logrus.Logger
}

func NewSlackBot(appToken, botToken string, eval Evaluator, market Market, logger *logrus.Logger) *SlackBot {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	client := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(logger.IsLevelEnabled(logrus.DebugLevel)),
		socketmode.OptionLog(log.New(logger.Writer(), "socketmode: ", log.Lshortfile|log.LstdFlags)),
	)

	return &SlackBot{
		client:       client,
		socketClient: socketClient,
		eventHandler: NewHandler(eval, market, logger),
		logger:       logger,
	}
}

// Start serves slash commands until ctx is cancelled or the connection fails.
func (sb *SlackBot) Start(ctx context.Context) error {
	go func() {
		for evt := range sb.socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				if err := sb.eventHandler.Handle(ctx, &evt, sb.socketClient); err != nil {
					sb.logger.WithError(err).Warn("Slash command failed")
				}
			}
		}
	}()

	return sb.socketClient.RunContext(ctx)
}
