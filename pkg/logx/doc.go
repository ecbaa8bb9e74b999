// Package logx is ytnotify's logging layer: a zerolog-backed Logger whose
// outputs can be swapped at runtime by a Service.
//
// Console output is human-readable, the log file is JSON, and warnings can be
// mirrored to a Telegram chat. Secrets registered in Config.Redact (the bot
// token) are masked before any sink sees a line.
package logx
