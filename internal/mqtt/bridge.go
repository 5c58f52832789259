// Package mqtt 提供可选的读数上行桥：支持通过 MQTT 发布读数的 kiosk 固件。
// HTTP 轮询仍是指令下发的唯一通道（kiosk 无推送通道）。
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/config"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/service"
)

// Bridge 订阅读数主题并送入摄入管道。
// 主题格式：medatm/readings/{kioskId}，负载为 Reading JSON。
type Bridge struct {
	client mqtt.Client
	cfg    *config.MQTTConfig
	ingest *service.IngestService
	logger *zap.Logger
}

func NewBridge(cfg *config.MQTTConfig, ingest *service.IngestService, logger *zap.Logger) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Bridge{
		client: client,
		cfg:    cfg,
		ingest: ingest,
		logger: logger,
	}, nil
}

// Start 订阅读数主题
func (b *Bridge) Start() error {
	token := b.client.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.Topic, token.Error())
	}
	b.logger.Info("MQTT reading bridge started",
		zap.String("broker", b.cfg.Broker),
		zap.String("topic", b.cfg.Topic))
	return nil
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	// 主题最后一段是 kiosk id
	parts := strings.Split(topic, "/")
	kioskID := parts[len(parts)-1]
	if kioskID == "" || kioskID == "+" {
		b.logger.Warn("MQTT message with invalid topic", zap.String("topic", topic))
		return
	}

	var reading domain.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		b.logger.Warn("failed to decode MQTT reading",
			zap.String("kiosk_id", kioskID),
			zap.Error(err))
		return
	}

	label, err := b.ingest.IngestReading(context.Background(), kioskID, reading)
	if err != nil {
		// NoActiveSession 在 MQTT 上行是常态（会话尚未开启），降级为 debug
		b.logger.Debug("MQTT reading not ingested",
			zap.String("kiosk_id", kioskID),
			zap.Error(err))
		return
	}
	b.logger.Debug("MQTT reading ingested",
		zap.String("kiosk_id", kioskID),
		zap.String("label", string(label)))
}

// Stop 断开 MQTT 连接
func (b *Bridge) Stop() {
	b.client.Unsubscribe(b.cfg.Topic)
	b.client.Disconnect(250)
}
