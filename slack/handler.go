package volslack

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

type Handler struct {
	helpHandler  *HelpHandler
	smileHandler *SmileHandler
}

func NewHandler(eval Evaluator, market Market, logger *logrus.Logger) *Handler {
	return &Handler{
		helpHandler:  NewHelpHandler(),
		smileHandler: NewSmileHandler(eval, market, logger),
	}
}

func (h *Handler) Handle(ctx context.Context, evt *socketmode.Event, client *socketmode.Client) error {
	data, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return nil
	}
	client.Ack(*evt.Request)

	switch data.Command {
	case "/help":
		return h.helpHandler.HandleCommand(data, client)
	case "/smile":
		return h.smileHandler.HandleCommand(ctx, data, client)
	}
	return nil
}
