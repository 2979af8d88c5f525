package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// TelegramSink delivers events to a Telegram chat. Delivery errors are
// logged and swallowed.
type TelegramSink struct {
	BotToken string
	ChatID   string
	HTTP     *http.Client
	Logger   *zap.Logger
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s TelegramSink) Notify(ctx context.Context, event Event) {
	if err := s.send(ctx, event.Text()); err != nil && s.Logger != nil {
		s.Logger.Warn("telegram delivery failed", zap.Error(err), zap.String("title", event.Title))
	}
}

func (s TelegramSink) send(ctx context.Context, message string) error {
	if s.BotToken == "" || s.ChatID == "" {
		return fmt.Errorf("missing bot_token/chat_id")
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", url.PathEscape(s.BotToken))
	b, err := json.Marshal(telegramSendMessageRequest{ChatID: s.ChatID, Text: message})
	if err != nil {
		return err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d", resp.StatusCode)
	}
	return nil
}
