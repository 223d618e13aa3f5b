package volslack

import (
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const helpText = "Available commands:\n" +
	"/help - Show this help message\n" +
	"/smile <symbol> <yyyy-MM-dd> [call|put:<strike>:<qty> ...] - Volatility smile of one expiry, with greeks of the listed position"

type HelpHandler struct{}

func NewHelpHandler() *HelpHandler {
	return &HelpHandler{}
}

func (h *HelpHandler) HandleCommand(data slack.SlashCommand, client *socketmode.Client) error {
	_, _, err := client.PostMessage(data.ChannelID,
		slack.MsgOptionText(helpText, false))
	return err
}
