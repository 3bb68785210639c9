package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"wattwatch/config"
	"wattwatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// targetAll sends to the default chat
const targetAll = "ALL"

const eventThrottle = 15 * time.Second

// telegramBot is the part of the bot API the service needs
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramService struct {
	bot            telegramBot
	chatID         int64
	startedTpl     string
	finishedTpl    string
	lastAlertTimes map[string]time.Time // Track last event per device and kind
	mu             sync.Mutex
	logger         *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := newTelegramService(bot, chatID, cfg.TelegramStarted, cfg.TelegramFinished, logger)

	// Test Telegram connection with retry
	if err := ts.testConnection(bot); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ts, nil
}

func newTelegramService(bot telegramBot, chatID int64, startedTpl, finishedTpl string, logger *zap.Logger) *TelegramService {
	return &TelegramService{
		bot:            bot,
		chatID:         chatID,
		startedTpl:     startedTpl,
		finishedTpl:    finishedTpl,
		lastAlertTimes: make(map[string]time.Time),
		logger:         logger,
	}
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection(bot *tgbotapi.BotAPI) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// Notify sends the started/finished message to the device's Telegram target.
// Devices without a target are skipped silently.
func (ts *TelegramService) Notify(ctx context.Context, event models.DeviceEvent) error {
	target := strings.TrimSpace(event.Device.TelegramTarget)
	if target == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	throttleKey := event.Device.ID + ":" + string(event.Kind)
	if ts.shouldThrottle(throttleKey) {
		ts.logger.Debug("Throttling device event", zap.String("device_id", event.Device.ID), zap.String("kind", string(event.Kind)))
		return nil
	}

	text := ts.composeMessage(event)
	if text == "" {
		return nil
	}

	if err := ts.send(target, text); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	ts.mu.Lock()
	ts.lastAlertTimes[throttleKey] = time.Now()
	ts.mu.Unlock()

	ts.logger.Info("Sent device event",
		zap.String("device_id", event.Device.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("target", target))
	return nil
}

// shouldThrottle suppresses a repeated event of the same kind within 15 seconds
func (ts *TelegramService) shouldThrottle(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	last, exists := ts.lastAlertTimes[key]
	if !exists {
		return false
	}
	return time.Since(last) < eventThrottle
}

// send resolves the target: ALL is the default chat, a number is a chat id, anything else a channel name
func (ts *TelegramService) send(target, text string) error {
	var msg tgbotapi.MessageConfig

	switch {
	case strings.EqualFold(target, targetAll):
		msg = tgbotapi.NewMessage(ts.chatID, text)
	default:
		if id, err := strconv.ParseInt(target, 10, 64); err == nil {
			msg = tgbotapi.NewMessage(id, text)
		} else {
			msg = tgbotapi.NewMessageToChannel("@"+strings.TrimPrefix(target, "@"), text)
		}
	}
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// composeMessage renders the configured template and, for finished jobs, the job summary
func (ts *TelegramService) composeMessage(event models.DeviceEvent) string {
	tpl := templateFor(event.Kind, ts.startedTpl, ts.finishedTpl)
	if tpl == "" {
		return ""
	}

	var sb strings.Builder
	switch event.Kind {
	case models.EventStarted:
		sb.WriteString("🟢 ")
	case models.EventFinished:
		sb.WriteString("✅ ")
	}
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(RenderTemplate(tpl, event.Device.Name)))
	sb.WriteString("</b>")

	if event.Kind == models.EventFinished && event.Job != nil {
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf("⚡ <b>Energy:</b> %.3f Wh\n", event.Job.Total))
		sb.WriteString(fmt.Sprintf("⏱️ <b>Runtime:</b> %s\n", formatDuration(event.Job.Duration())))
		if event.Job.StartedDateTime != "" {
			sb.WriteString(fmt.Sprintf("🕐 <b>Started:</b> %s\n", event.Job.StartedDateTime))
		}
		sb.WriteString(fmt.Sprintf("🕐 <b>Finished:</b> %s", event.Job.FinishedDateTime))
	}

	return sb.String()
}

// SendStatusMessage sends a general status message to the default chat
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage(deviceCount int) error {
	message := "🟢 <b>WattWatch Metering Started</b>\n\n" +
		fmt.Sprintf("🔌 Monitoring %d appliance(s)\n", deviceCount) +
		"🤖 Telegram notifications active"

	return ts.SendStatusMessage(message)
}

// SendSourceSilentAlert warns that a device's power source stopped reporting
func (ts *TelegramService) SendSourceSilentAlert(device models.Device, lastSeen time.Time, silentFor time.Duration) error {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>POWER SOURCE SILENT</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("🔌 <b>Device:</b> %s\n", html.EscapeString(device.Name)))
	sb.WriteString(fmt.Sprintf("📡 <b>Source:</b> %s\n", html.EscapeString(device.SourceStateRef)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", models.FormatDateTime(lastSeen)))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n\n", formatDuration(silentFor)))
	sb.WriteString("🔴 <b>Status:</b> NO READINGS")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending source silent alert: %w", err)
	}

	ts.logger.Info("Sent source silent alert",
		zap.String("device_id", device.ID),
		zap.Duration("silent_for", silentFor))

	return nil
}

// SendSourceRecoveredAlert reports that a silent source is reporting again
func (ts *TelegramService) SendSourceRecoveredAlert(device models.Device, downtime time.Duration) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>POWER SOURCE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("🔌 <b>Device:</b> %s\n", html.EscapeString(device.Name)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", models.FormatDateTime(time.Now())))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downtime)))
	sb.WriteString("🟢 <b>Status:</b> REPORTING")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending source recovery alert: %w", err)
	}

	ts.logger.Info("Sent source recovery alert",
		zap.String("device_id", device.ID),
		zap.Duration("downtime", downtime))

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
