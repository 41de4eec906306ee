package internal

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何管理大量並發的 WebSocket 連接，並在連接之間安全地轉發消息？
//
// 核心挑戰：
//   1. 連接生命週期：建立 → 開啟 → 關閉，關閉時必須恰好清理一次
//   2. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   3. 慢消費者隔離：某個客戶端讀得慢，不能拖累其他連接的投遞
//   4. 並發廣播：警報事件同時推送給所有連接
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有在線連接
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel + 非阻塞發送 - 背壓由單個連接吸收，不回傳給路由
//   ✅ sync.Once - 確保 send channel 只關閉一次

// Hub WebSocket 連接中心
//
// 負責連接的生命週期管理與全域廣播：
//   - 接受 WebSocket 升級，為每個連接分配不透明的連接 ID
//   - 連接斷開時依序執行註冊表清理（在線映射 → 房間成員 → 連接集合）
//   - 承接警報廣播：NotifyAlertCreated 向所有在線連接扇出
//
// 並發安全：clients 由 RWMutex 保護；Client 的讀寫各由單一 goroutine 持有。
type Hub struct {
	presence  *Presence
	rooms     *RoomDirectory
	router    *Router
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	cfg       WebSocketConfig
	clients   map[string]*Client // connID -> Client
	mu        sync.RWMutex
	startedAt time.Time
}

// Client 一條在線 WebSocket 連接
//
// 生命週期歸 Hub 所有；在線註冊表與房間目錄只引用、不擁有。
// 一個讀 goroutine（readPump）+ 一個寫 goroutine（writePump），
// 入站事件因此天然按到達順序處理（每連接 FIFO）。
type Client struct {
	ID          string // 連接 ID（由服務端分配，與用戶身份無關）
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	mu        sync.Mutex // 保護 closed（入隊與關閉可能來自不同連接的 goroutine）
	closed    bool
	closeOnce sync.Once
}

// NewHub 創建連接中心
//
// 路由器在此構建並共享同一組註冊表：Hub 自身即是路由器的 Broadcaster。
func NewHub(presence *Presence, rooms *RoomDirectory, cfg WebSocketConfig, logger *slog.Logger) *Hub {
	cfg.withDefaults()

	hub := &Hub{
		presence: presence,
		rooms:    rooms,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		cfg:       cfg,
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
	}
	hub.router = NewRouter(presence, rooms, hub, logger)

	return hub
}

// ServeWS 處理 WebSocket 升級請求
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, hub.cfg.SendBuffer),
		hub:         hub,
	}

	hub.mu.Lock()
	hub.clients[client.ID] = client
	hub.mu.Unlock()

	go client.writePump()
	go client.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", client.ID,
		"remote_addr", r.RemoteAddr)
}

// unregister 連接關閉時的清理（恰好一次）
//
// 順序：在線映射 → 房間成員 → 連接集合，全部完成後才丟棄句柄，
// 避免清理到一半時還有投遞指向殘留引用。各步驟本身冪等，
// 重複調用是 no-op。
func (hub *Hub) unregister(c *Client) {
	hub.presence.RemoveByConnection(c)
	hub.rooms.LeaveAll(c)

	hub.mu.Lock()
	if cur, ok := hub.clients[c.ID]; ok && cur == c {
		delete(hub.clients, c.ID)
	}
	hub.mu.Unlock()

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// BroadcastAll 向所有在線連接投遞事件
//
// 警報通知與直播狀態事件的全域扇出路徑。非阻塞投遞：
// 正在關閉或緩衝已滿的連接可能錯過，屬於可接受的 best-effort。
func (hub *Hub) BroadcastAll(env Envelope) int {
	message, err := env.Marshal()
	if err != nil {
		hub.logger.Error("序列化廣播事件失敗", "error", err, "event", env.Event)
		return 0
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	delivered := 0
	for _, c := range hub.clients {
		if c.enqueue(message) {
			delivered++
		}
	}
	return delivered
}

// NotifyAlertCreated 警報落庫後的通知入口
//
// 由持久層（HTTP 回調或 NATS 訂閱）在警報記錄持久化之後調用。
// payload 不做任何解析，包成 new_alert 事件原樣廣播。
// 只做入隊，不會阻塞調用方。返回入隊的連接數。
func (hub *Hub) NotifyAlertCreated(payload any) int {
	env, err := NewEnvelope(EventNewAlert, payload)
	if err != nil {
		hub.logger.Error("構建警報事件失敗", "error", err)
		return 0
	}

	n := hub.BroadcastAll(env)
	hub.logger.Info("警報已廣播", "receivers", n)
	return n
}

// ConnectionCount 在線連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Stats 統計資訊
func (hub *Hub) Stats() map[string]any {
	hub.mu.RLock()
	connections := len(hub.clients)
	hub.mu.RUnlock()

	return map[string]any{
		"connections":    connections,
		"identities":     hub.presence.Count(),
		"rooms":          hub.rooms.RoomCount(),
		"uptime_seconds": int(time.Since(hub.startedAt).Seconds()),
	}
}

// Stop 關閉所有連接並停止 Hub
func (hub *Hub) Stop() {
	hub.mu.RLock()
	clients := make([]*Client, 0, len(hub.clients))
	for _, c := range hub.clients {
		clients = append(clients, c)
	}
	hub.mu.RUnlock()

	for _, c := range clients {
		hub.unregister(c)
		c.conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止")
}

// enqueue 非阻塞投遞
//
// 緩衝滿或連接已關閉時丟棄：慢消費者的背壓由它自己的緩衝吸收，
// 絕不回傳到路由器的分發路徑。closed 檢查與 unregister 的關閉
// 在同一把鎖下，路由快照裡殘留的句柄不會打到已關閉的 channel。
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：
//   - PongWait（預設 60 秒）內沒有任何消息（包括 Pong）就關閉連接
//   - 收到 Pong → 重置超時（配合 writePump 的 Ping，留出余量）
//
// 退出時執行斷線清理：這是 open → closed 的唯一轉換點，
// 網絡異常、客戶端主動斷開、服務關閉都會走到這裡。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Info("連接已關閉並清理", "conn_id", c.ID)
	}()

	c.conn.SetReadLimit(c.hub.cfg.ReadLimit)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.hub.router.Dispatch(c, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：每 PingInterval（預設 54 秒）發送 Ping。
// 為什麼預設 54 秒而非整數？很多代理默認 60 秒超時，
// 提前發送確保連接在代理處保活，並給 Pong 留出余量。
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
