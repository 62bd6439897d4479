package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"buzzwatch/analysis"
	"buzzwatch/db"
	"buzzwatch/market"
	"buzzwatch/transcript"
	"buzzwatch/watch"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/embed/|/shorts/|/watch\?v=|youtu\.be/)([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`^([0-9A-Za-z_-]{11})$`),
}

// ExtractVideoID pulls an 11-character video id out of a pasted URL or a bare
// id. Returns "" when the input contains none.
func ExtractVideoID(input string) string {
	input = strings.TrimSpace(input)
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(input); m != nil {
			return m[1]
		}
	}
	return ""
}

// KeyPoolStatus reports API key pool health for /status.
type KeyPoolStatus interface {
	Status() (total, exhausted int)
}

// Bot routes Telegram commands to the watch manager and runs the
// transcript -> counts -> auto-trade pipeline.
type Bot struct {
	Client         *TelegramClient
	Manager        *watch.Manager
	Transcripts    watch.TranscriptFetcher
	Engine         *market.Engine
	Groups         []analysis.Group
	Keys           KeyPoolStatus
	DB             *sql.DB
	DefaultChannel string
	PollTimeout    int

	mu         sync.Mutex
	watchChats map[string]int64
}

func (b *Bot) groups() []analysis.Group {
	if b.Groups != nil {
		return b.Groups
	}
	return analysis.DefaultGroups()
}

// Start runs the long-poll loop until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	timeout := b.PollTimeout
	if timeout <= 0 {
		timeout = 25
	}
	var offset int64
	slog.Info("telegram bot started")
	for {
		if ctx.Err() != nil {
			slog.Info("telegram bot stopped")
			return
		}
		updates, err := b.Client.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("telegram bot stopped")
				return
			}
			slog.Warn("telegram getUpdates failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text, parseMode string) {
	if err := b.Client.SendMessage(ctx, chatID, text, parseMode); err != nil {
		slog.Warn("telegram send failed", slog.Any("err", err))
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *TgMessage) {
	text := strings.TrimSpace(msg.Text)
	cmd, arg := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.Chat.ID, helpText, "")
	case "/watch":
		b.cmdWatch(ctx, msg.Chat.ID, arg)
	case "/stop":
		b.cmdStop(ctx, msg.Chat.ID, arg)
	case "/status":
		b.cmdStatus(ctx, msg.Chat.ID)
	case "/count":
		if id := ExtractVideoID(arg); id != "" {
			b.analyze(ctx, msg.Chat.ID, id)
		} else {
			b.reply(ctx, msg.Chat.ID, "Usage: /count <video url or id>", "")
		}
	case "/markets":
		b.cmdMarkets(ctx, msg.Chat.ID)
	default:
		if id := ExtractVideoID(text); id != "" {
			b.analyze(ctx, msg.Chat.ID, id)
		}
	}
}

const helpText = `Commands:
/watch [channel_id] - start watching a channel for new uploads
/stop [channel_id] - stop watching
/status - running sessions and API key pool
/count <video> - buzzword counts for a video
/markets - open markets for the event
Paste any video link to run the full analysis.`

// splitCommand separates "/cmd@botname arg rest" into "/cmd" and "arg rest".
func splitCommand(text string) (cmd, arg string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = parts[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

func (b *Bot) cmdWatch(ctx context.Context, chatID int64, arg string) {
	channel := arg
	if channel == "" {
		channel = b.DefaultChannel
	}
	if channel == "" {
		b.reply(ctx, chatID, "No channel configured. Usage: /watch <channel_id>", "")
		return
	}
	id, err := b.Manager.Start(ctx, channel, &telegramNotifier{client: b.Client, chatID: chatID})
	if err != nil {
		b.reply(ctx, chatID, "Could not start watch: "+err.Error(), "")
		return
	}
	b.mu.Lock()
	if b.watchChats == nil {
		b.watchChats = make(map[string]int64)
	}
	b.watchChats[channel] = chatID
	b.mu.Unlock()
	b.reply(ctx, chatID, fmt.Sprintf("👀 Watching %s for new uploads (session %s).", channel, shortID(id)), "")
}

func (b *Bot) cmdStop(ctx context.Context, chatID int64, arg string) {
	channel := arg
	if channel == "" {
		channel = b.DefaultChannel
	}
	n := b.Manager.StopChannel(channel)
	if n == 0 {
		b.reply(ctx, chatID, "Nothing is watching "+channel+".", "")
		return
	}
	b.mu.Lock()
	delete(b.watchChats, channel)
	b.mu.Unlock()
	b.reply(ctx, chatID, fmt.Sprintf("🛑 Stopped %d session(s) for %s.", n, channel), "")
}

func (b *Bot) cmdStatus(ctx context.Context, chatID int64) {
	var sb strings.Builder
	sessions := b.Manager.Status()
	if len(sessions) == 0 {
		sb.WriteString("No active watch sessions.\n")
	}
	for _, s := range sessions {
		fmt.Fprintf(&sb, "• %s: %s (session %s, baseline %d)\n", s.ChannelID, s.State, shortID(s.ID), s.BaselineCount)
	}
	if b.Keys != nil {
		total, exhausted := b.Keys.Status()
		fmt.Fprintf(&sb, "API keys: %d/%d usable\n", total-exhausted, total)
	}
	if b.Engine != nil {
		if b.Engine.Enabled() {
			mode := "LIVE"
			if b.Engine.DryRun {
				mode = "dry-run"
			}
			fmt.Fprintf(&sb, "Auto-trading: $%.2f per market (%s)\n", b.Engine.USDCPerMarket, mode)
		} else {
			sb.WriteString("Auto-trading: disabled\n")
		}
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"), "")
}

func (b *Bot) cmdMarkets(ctx context.Context, chatID int64) {
	if b.Engine == nil || b.Engine.Gamma == nil {
		b.reply(ctx, chatID, "Market access not configured.", "")
		return
	}
	markets, err := b.Engine.Gamma.ActiveMarkets(ctx, b.Engine.EventSlug)
	if err != nil {
		b.reply(ctx, chatID, "Could not fetch markets: "+err.Error(), "")
		return
	}
	if len(markets) == 0 {
		b.reply(ctx, chatID, "No active markets for the event.", "")
		return
	}
	var sb strings.Builder
	sb.WriteString("Open markets:\n")
	for _, m := range markets {
		fmt.Fprintf(&sb, "• %s\n", m.Question)
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"), "")
}

// analyze runs the on-demand pipeline for one video: transcript, counts
// table, then auto-trade evaluation when enabled.
func (b *Bot) analyze(ctx context.Context, chatID int64, videoID string) {
	b.reply(ctx, chatID, "Fetching transcript for "+videoID+"...", "")
	tr, err := b.Transcripts.Fetch(ctx, videoID)
	if err != nil {
		b.reply(ctx, chatID, "Transcript fetch failed: "+err.Error(), "")
		return
	}
	if tr.Status != transcript.StatusReady {
		b.reply(ctx, chatID, "No transcript available yet for "+videoID+". Captions usually lag a new upload by a few minutes.", "")
		return
	}
	b.reportCounts(ctx, chatID, videoID, tr)
}

// HandleDetectedVideo is the watch manager's completion hook: it runs the
// same counts/trade pipeline and reports into the conversation that started
// the watch.
func (b *Bot) HandleDetectedVideo(ctx context.Context, video watch.Upload, tr transcript.Result) {
	chatID, ok := b.chatForDetection()
	if !ok {
		slog.Info("detected video processed without a chat to report to", slog.String("video_id", video.ID))
		return
	}
	b.reportCounts(ctx, chatID, video.ID, tr)
}

// chatForDetection picks the conversation to report a detection into. With
// one watched channel that is unambiguous; with several, the most recent
// registration wins.
func (b *Bot) chatForDetection() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.watchChats {
		return id, true
	}
	return 0, false
}

func (b *Bot) reportCounts(ctx context.Context, chatID int64, videoID string, tr transcript.Result) {
	groups := b.groups()
	counts := analysis.Count(strings.ToLower(tr.Text), groups)
	table := analysis.FormatTable(counts, groups)
	b.reply(ctx, chatID, "<b>Buzzword Counts</b>\n\n"+table, "HTML")

	if b.DB != nil {
		if buf, err := json.Marshal(counts); err == nil {
			if err := db.SetVideoCounts(ctx, b.DB, videoID, string(buf)); err != nil {
				slog.Warn("counts audit failed", slog.Any("err", err))
			}
		}
	}

	if b.Engine == nil || !b.Engine.Enabled() {
		b.reply(ctx, chatID, "Auto-trading disabled (set AUTO_BUY_USDC_PER_MARKET > 0).", "")
		return
	}
	b.reply(ctx, chatID, "Checking markets for auto-trades...", "")
	decisions, err := b.Engine.Evaluate(ctx, videoID, counts)
	if err != nil {
		b.reply(ctx, chatID, "Auto-trade evaluation failed: "+err.Error(), "")
		return
	}
	var lines []string
	for _, d := range decisions {
		if !d.Placed {
			continue
		}
		status := "EXECUTED"
		if d.Status == "dry_run" {
			status = "DRY RUN"
		}
		lines = append(lines, fmt.Sprintf("✅ %s Buy $%.2f YES on %q (count: %d, mid %.2f)", status, d.USDC, d.Category, d.Count, d.Mid))
	}
	if len(lines) == 0 {
		b.reply(ctx, chatID, "No auto-trades triggered (priced in or below threshold).", "")
		return
	}
	b.reply(ctx, chatID, "<b>Auto Trades:</b>\n"+strings.Join(lines, "\n"), "HTML")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// telegramNotifier delivers watch-session notices into a single conversation.
type telegramNotifier struct {
	client *TelegramClient
	chatID int64
}

func (n *telegramNotifier) Notify(ctx context.Context, text string) {
	if err := n.client.SendMessage(ctx, n.chatID, text, ""); err != nil {
		slog.Warn("telegram notify failed", slog.Any("err", err))
	}
}
