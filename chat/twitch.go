package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchNotifier relays watch notices into a Twitch channel. IRC is
// single-line plain text, so HTML markup and newlines are flattened.
type TwitchNotifier struct {
	client  *twitch.Client
	channel string
}

// StartTwitchNotifier connects to Twitch IRC in the background and returns a
// notifier for the channel. Disconnects when ctx is canceled.
func StartTwitchNotifier(ctx context.Context, username, oauthToken, channel string) *TwitchNotifier {
	client := twitch.NewClient(username, oauthToken)
	client.Join(channel)
	go func() {
		if err := client.Connect(); err != nil && ctx.Err() == nil {
			slog.Error("twitch chat connect error", slog.Any("err", err))
		}
	}()
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Warn("twitch disconnect error", slog.Any("err", err))
		}
	}()
	slog.Info("twitch notifier started", slog.String("channel", channel))
	return &TwitchNotifier{client: client, channel: channel}
}

func (n *TwitchNotifier) Notify(_ context.Context, text string) {
	n.client.Say(n.channel, flattenForIRC(text))
}

func flattenForIRC(text string) string {
	r := strings.NewReplacer("<pre>", "", "</pre>", "", "<b>", "", "</b>", "", "\n", " | ")
	out := r.Replace(text)
	if len(out) > 450 {
		out = out[:450] + "..."
	}
	return out
}
