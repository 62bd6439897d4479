// Package chat contains the operator-facing chat surfaces.
//
// It provides two entrypoints:
//   - Bot: a Telegram long-poll bot. Commands start and stop watch sessions,
//     report status, and run the transcript/buzzword/auto-trade pipeline on
//     demand for any pasted video link. Sessions started from a conversation
//     send their notifications back to that conversation.
//   - StartTwitchNotifier: an alternate notification sink that relays watch
//     notices into a Twitch IRC channel for operators who live there instead.
//
// Credentials: the Telegram bot needs TELEGRAM_BOT_TOKEN; the Twitch notifier
// needs a bot username and an OAuth token with chat:edit scope.
package chat
