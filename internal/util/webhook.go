package util

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/metacubex/mihomo/log"

	"netwatch/config"
	"netwatch/internal/eventbus"
)

// WebhookClient webhook客户端
type WebhookClient struct {
	Client *http.Client
}

// NewWebhookClient 创建webhook客户端
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RenderTemplate 用data替换 {{key}} 占位符
func RenderTemplate(template string, data map[string]interface{}) string {
	for key, value := range data {
		template = strings.ReplaceAll(template, fmt.Sprintf("{{%s}}", key), fmt.Sprintf("%v", value))
	}
	return template
}

// ExecuteWebhook 执行webhook请求
func (wc *WebhookClient) ExecuteWebhook(ctx context.Context, webhook config.WebhookConfig, data map[string]interface{}) error {
	if webhook.URL == "" {
		return errors.New("webhook URL is empty")
	}

	targetURL := RenderTemplate(webhook.URL, data)
	method := strings.ToUpper(webhook.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if method == http.MethodGet {
		// GET请求将参数放到URL中
		if len(data) > 0 {
			params := url.Values{}
			keys := make([]string, 0, len(data))
			for key := range data {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				params.Add(key, fmt.Sprintf("%v", data[key]))
			}
			if strings.Contains(targetURL, "?") {
				targetURL += "&" + params.Encode()
			} else {
				targetURL += "?" + params.Encode()
			}
		}
	} else if webhook.Body != "" {
		body = []byte(RenderTemplate(webhook.Body, data))
	} else if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode webhook payload: %w", err)
		}
		body = encoded
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range webhook.Header {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			req.Header.Set(key, value)
		}
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := wc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %s", resp.Status)
	}
	return nil
}

// ExecuteWebhooks 批量执行webhooks
func (wc *WebhookClient) ExecuteWebhooks(ctx context.Context, webhooks []config.WebhookConfig, data map[string]interface{}) []error {
	var errs []error
	for _, webhook := range webhooks {
		if err := wc.ExecuteWebhook(ctx, webhook, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s failed: %w", webhook.Name, err))
		}
	}
	return errs
}

// WebhookEventHandler 将事件转发给webhooks
type WebhookEventHandler struct {
	client   *WebhookClient
	webhooks []config.WebhookConfig
}

// NewWebhookEventHandler 创建webhook事件处理器
func NewWebhookEventHandler(client *WebhookClient, webhooks []config.WebhookConfig) *WebhookEventHandler {
	return &WebhookEventHandler{client: client, webhooks: webhooks}
}

// HandleEvent 事件数据加上 timestamp 作为模板参数
func (h *WebhookEventHandler) HandleEvent(event eventbus.Event) error {
	data := make(map[string]interface{}, len(event.GetData())+2)
	for key, value := range event.GetData() {
		data[key] = value
	}
	data["event"] = event.GetType()
	data["timestamp"] = event.GetTimestamp().Format(time.RFC3339)

	errs := h.client.ExecuteWebhooks(context.Background(), h.webhooks, data)
	for _, err := range errs {
		log.Warnln("%v", err)
	}
	return errors.Join(errs...)
}
