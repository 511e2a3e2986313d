// Package deliver forwards downloaded story media to a Telegram chat through
// the Bot API. A send either succeeds (the API accepted the message) or is
// logged and reported as false; nothing is retried here.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrDelivery wraps every failed send.
	ErrDelivery = errors.New("deliver: send failed")
	// ErrConversion is returned when a WebP file cannot be transcoded.
	ErrConversion = errors.New("deliver: conversion failed")
)

// Counter receives one IncSent per accepted message.
type Counter interface {
	IncSent()
}

// Config configures a Sender.
type Config struct {
	Token string
	// ChatID is a numeric chat id or an @channel username.
	ChatID string
	// APIEndpoint overrides the Bot API URL template ("…/bot%s/%s").
	APIEndpoint string
	// Timeout bounds one upload. Default: 60s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.APIEndpoint == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Sender uploads files to one chat.
type Sender struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	channel string
	counter Counter
	logger  *slog.Logger
}

// New validates the chat address and builds the bot client. The getMe
// check only logs: an unreachable or rejecting Bot API at start-up surfaces
// later as failed sends.
func New(cfg Config, counter Counter) (*Sender, error) {
	cfg.defaults()
	if cfg.Token == "" {
		return nil, fmt.Errorf("deliver: bot token is required")
	}
	chatID, channel, err := parseChat(cfg.ChatID)
	if err != nil {
		return nil, err
	}
	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(cfg.APIEndpoint)
	if self, err := bot.GetMe(); err != nil {
		cfg.Logger.Warn("deliver: bot check failed", "chat", cfg.ChatID, "error", err)
	} else {
		bot.Self = self
		cfg.Logger.Info("deliver: bot ready", "bot", self.UserName, "chat", cfg.ChatID)
	}
	return &Sender{
		bot:     bot,
		chatID:  chatID,
		channel: channel,
		counter: counter,
		logger:  cfg.Logger,
	}, nil
}

func parseChat(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("deliver: chat id is required")
	}
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return 0, s, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("deliver: chat id %q is neither numeric nor @channel", s)
	}
	return id, "", nil
}

// Send uploads path with caption and reports whether the API accepted it.
// Failures are logged. WebP files are sent as a JPEG copy that is removed
// afterwards, or as a document if conversion fails.
func (s *Sender) Send(ctx context.Context, path, caption string) bool {
	start := time.Now()
	kind, err := s.send(ctx, path, caption)
	if err != nil {
		s.logger.Warn("deliver: send failed",
			"path", path, "kind", kind.String(), "error", err)
		return false
	}
	if s.counter != nil {
		s.counter.IncSent()
	}
	s.logger.Info("deliver: sent",
		"path", path, "kind", kind.String(), "duration_ms", time.Since(start).Milliseconds())
	return true
}

func (s *Sender) send(ctx context.Context, path, caption string) (Kind, error) {
	if err := ctx.Err(); err != nil {
		return Document, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if !info.Mode().IsRegular() {
		return Document, fmt.Errorf("%w: %s is not a regular file", ErrDelivery, path)
	}

	upload, kind := path, Classify(path)
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		converted, err := ToJPEG(path)
		if err != nil {
			s.logger.Warn("deliver: webp conversion failed, sending as document", "path", path, "error", err)
		} else {
			defer os.Remove(converted)
			upload, kind = converted, Photo
		}
	}

	if _, err := s.bot.Send(s.message(kind, upload, caption)); err != nil {
		return kind, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return kind, nil
}

func (s *Sender) message(kind Kind, path, caption string) tgbotapi.Chattable {
	file := tgbotapi.FilePath(path)
	switch kind {
	case Photo:
		m := tgbotapi.NewPhoto(s.chatID, file)
		m.ChannelUsername = s.channel
		m.Caption = caption
		return m
	case Video:
		m := tgbotapi.NewVideo(s.chatID, file)
		m.ChannelUsername = s.channel
		m.Caption = caption
		return m
	default:
		m := tgbotapi.NewDocument(s.chatID, file)
		m.ChannelUsername = s.channel
		m.Caption = caption
		return m
	}
}
