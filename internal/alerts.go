package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// AlertSource NATS 警報事件來源
//
// 持久層把警報記錄落庫之後，可以選擇發布一條 NATS 消息
// 而不是調用 HTTP 回調。兩條路徑最終都進入 Hub.NotifyAlertCreated。
//
// 系統設計考量：
//   - 消息體視為不透明載荷，只驗證是合法 JSON，不解析欄位
//   - 自動重連交給 nats.go（MaxReconnects(-1)），斷線期間的消息
//     丟失是可接受的：警報已落庫，客戶端可用拉取接口補齊
type AlertSource struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewAlertSource 連接 NATS 並訂閱警報主題
func NewAlertSource(cfg AlertsConfig, hub *Hub, logger *slog.Logger) (*AlertSource, error) {
	conn, err := nats.Connect(cfg.NATSUrl,
		nats.Name("sos-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS 連接中斷", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS 已重連", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	sub, err := conn.Subscribe(cfg.Subject, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			logger.Warn("丟棄非 JSON 的警報消息", "subject", msg.Subject)
			return
		}
		hub.NotifyAlertCreated(json.RawMessage(msg.Data))
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("訂閱警報主題失敗: %w", err)
	}

	logger.Info("警報事件來源已啟動",
		"url", cfg.NATSUrl,
		"subject", cfg.Subject)

	return &AlertSource{
		conn:   conn,
		sub:    sub,
		logger: logger,
	}, nil
}

// Close 取消訂閱並斷開連接
func (s *AlertSource) Close() {
	if s == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.Warn("取消 NATS 訂閱失敗", "error", err)
	}
	s.conn.Close()
	s.logger.Info("警報事件來源已停止")
}
