package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 從 YAML 文件載入，缺省值見 DefaultConfig。命令行參數可覆蓋
// 常用欄位（見 cmd/server）。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// WebSocketConfig 連接層配置
type WebSocketConfig struct {
	ReadLimit       int64         `yaml:"read_limit"`        // 單條消息上限（字節）
	ReadBufferSize  int           `yaml:"read_buffer_size"`  // 底層讀緩衝
	WriteBufferSize int           `yaml:"write_buffer_size"` // 底層寫緩衝
	SendBuffer      int           `yaml:"send_buffer"`       // 每連接出站隊列長度
	PongWait        time.Duration `yaml:"pong_wait"`         // 讀取超時
	PingInterval    time.Duration `yaml:"ping_interval"`     // Ping 間隔（必須小於 PongWait）
	WriteWait       time.Duration `yaml:"write_wait"`        // 單次寫入超時
}

// AlertsConfig 警報事件來源配置
//
// NATSUrl 為空時不啟用 NATS 訂閱，警報只經由 HTTP 回調進入。
type AlertsConfig struct {
	NATSUrl string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig 缺省配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.WebSocket.withDefaults()
	cfg.Alerts.Subject = "alerts.created"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// withDefaults 補齊零值欄位
func (c *WebSocketConfig) withDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 16 * 1024
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 54 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// LoadConfig 從 YAML 文件載入配置（在缺省值之上覆蓋）
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 - 路徑來自命令行參數
	if err != nil {
		return nil, fmt.Errorf("讀取配置文件失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失敗: %w", err)
	}

	cfg.WebSocket.withDefaults()

	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		return nil, fmt.Errorf("ping_interval (%v) 必須小於 pong_wait (%v)",
			cfg.WebSocket.PingInterval, cfg.WebSocket.PongWait)
	}

	return cfg, nil
}
