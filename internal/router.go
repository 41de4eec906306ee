package internal

import (
	"encoding/json"
	"log/slog"
)

// 系統設計問題：
//   同一個服務如何同時支持「按身份點對點投遞」與「按房間群組投遞」？
//
// 設計方案：
//   註冊身份時，同時把連接加入一個以該身份命名的房間。
//   兩種尋址方式統一到一個原語上：「投遞給房間 X 的成員（可排除發送者）」。
//   點對點則直接走在線註冊表查找單一連接。

// Broadcaster 全域廣播介面
//
// 路由器透過此介面對所有在線連接廣播，解耦路由邏輯與連接管理，
// 測試時可注入假實現。
type Broadcaster interface {
	// BroadcastAll 向所有在線連接投遞事件，返回入隊的連接數
	BroadcastAll(env Envelope) int
}

// Router 信令路由器
//
// 消費單一連接的入站事件，依事件類型計算收件人集合並原樣轉發。
// 所有投遞都是 fire-and-forget：只保證「分發當下連接仍開啟時嘗試過投遞」，
// 沒有確認、沒有重試。路由失敗對發送者不可見。
type Router struct {
	presence    *Presence
	rooms       *RoomDirectory
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewRouter 創建信令路由器
func NewRouter(presence *Presence, rooms *RoomDirectory, broadcaster Broadcaster, logger *slog.Logger) *Router {
	return &Router{
		presence:    presence,
		rooms:       rooms,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Dispatch 處理一條入站事件
//
// 按連接的讀取順序逐條調用（每連接 FIFO）。格式錯誤或缺少必填欄位的
// 事件丟棄並記錄，連接保持開啟。
func (rt *Router) Dispatch(sender *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		rt.logger.Warn("丟棄無法解析的事件",
			"error", err,
			"conn_id", sender.ID)
		return
	}

	switch env.Event {
	case EventRegisterUser:
		rt.handleRegisterUser(sender, env.Data)
	case EventRequestLiveVideo:
		rt.handleRequestLiveVideo(sender, env.Data)
	case EventReconnectStream:
		rt.handleReconnectStream(sender, env.Data)
	case EventStreamRejected, EventStreamStopped:
		rt.handleStreamState(sender, env.Event, env.Data)
	case EventJoinRoom:
		rt.handleJoinRoom(sender, env.Data)
	case EventOffer:
		rt.handleOffer(sender, env.Data)
	case EventAnswer:
		rt.handleAnswer(sender, env.Data)
	case EventICECandidate:
		rt.handleICECandidate(sender, env.Data)
	default:
		rt.logger.Debug("收到未知事件類型",
			"event", env.Event,
			"conn_id", sender.ID)
	}
}

// handleRegisterUser 註冊身份
//
// 同時加入以身份命名的房間，讓身份尋址與房間尋址共用成員機制。
func (rt *Router) handleRegisterUser(sender *Client, raw json.RawMessage) {
	var d registerUserData
	if !rt.decode(sender, EventRegisterUser, raw, &d) {
		return
	}
	if d.UserID == "" {
		rt.dropMissingField(sender, EventRegisterUser, "userId")
		return
	}

	rt.presence.Register(d.UserID, sender)
	rt.rooms.Join(d.UserID, sender)

	rt.logger.Info("用戶已註冊上線",
		"user_id", d.UserID,
		"conn_id", sender.ID)
}

// handleRequestLiveVideo 請求指定用戶開始直播（定向投遞）
func (rt *Router) handleRequestLiveVideo(sender *Client, raw json.RawMessage) {
	var d requestLiveVideoData
	if !rt.decode(sender, EventRequestLiveVideo, raw, &d) {
		return
	}
	if d.TargetUserID == "" {
		rt.dropMissingField(sender, EventRequestLiveVideo, "targetUserId")
		return
	}

	// 目標不在線是正常狀態，靜默跳過
	target, ok := rt.presence.Lookup(d.TargetUserID)
	if !ok {
		rt.logger.Debug("直播請求目標不在線",
			"target_user_id", d.TargetUserID)
		return
	}

	rt.send(target, EventRequestLiveVideo, requestLiveVideoData{TargetUserID: d.TargetUserID})
}

// handleReconnectStream 請求用戶重新發送 offer（定向投遞）
func (rt *Router) handleReconnectStream(sender *Client, raw json.RawMessage) {
	var d reconnectStreamData
	if !rt.decode(sender, EventReconnectStream, raw, &d) {
		return
	}
	if d.UserID == "" {
		rt.dropMissingField(sender, EventReconnectStream, "userId")
		return
	}

	target, ok := rt.presence.Lookup(d.UserID)
	if !ok {
		rt.logger.Debug("重連請求目標不在線",
			"user_id", d.UserID)
		return
	}

	rt.send(target, EventReconnectStream, reconnectStreamData{UserID: d.UserID})
}

// handleStreamState 直播被拒絕 / 停止（全域廣播）
//
// 廣播給所有在線連接而非特定對象：任何正在觀看的管理端
// 都需要得知直播已結束。
func (rt *Router) handleStreamState(sender *Client, event EventType, raw json.RawMessage) {
	var d streamStateData
	if !rt.decode(sender, event, raw, &d) {
		return
	}
	if d.UserID == "" {
		rt.dropMissingField(sender, event, "userId")
		return
	}

	env, err := NewEnvelope(event, streamStateData{UserID: d.UserID})
	if err != nil {
		rt.logger.Error("構建廣播事件失敗", "error", err, "event", event)
		return
	}
	rt.broadcaster.BroadcastAll(env)

	rt.logger.Info("直播狀態變更已廣播",
		"event", event,
		"user_id", d.UserID)
}

// handleJoinRoom 加入信令房間並通知既有成員
//
// 加入者本人不會收到 user-joined 通知。
func (rt *Router) handleJoinRoom(sender *Client, raw json.RawMessage) {
	var d joinRoomData
	if !rt.decode(sender, EventJoinRoom, raw, &d) {
		return
	}
	if d.RoomID == "" {
		rt.dropMissingField(sender, EventJoinRoom, "roomId")
		return
	}

	rt.rooms.Join(d.RoomID, sender)
	rt.fanout(rt.rooms.MembersExcept(d.RoomID, sender), EventUserJoined, userJoinedData{Role: d.Role})

	rt.logger.Info("成員加入信令房間",
		"room_id", d.RoomID,
		"role", d.Role,
		"conn_id", sender.ID)
}

// handleOffer 轉發 offer（載荷不透明）
func (rt *Router) handleOffer(sender *Client, raw json.RawMessage) {
	var d offerData
	if !rt.decode(sender, EventOffer, raw, &d) {
		return
	}
	if d.RoomID == "" || len(d.Offer) == 0 {
		rt.dropMissingField(sender, EventOffer, "roomId/offer")
		return
	}
	rt.fanout(rt.rooms.MembersExcept(d.RoomID, sender), EventOffer, d.Offer)
}

// handleAnswer 轉發 answer（載荷不透明）
func (rt *Router) handleAnswer(sender *Client, raw json.RawMessage) {
	var d answerData
	if !rt.decode(sender, EventAnswer, raw, &d) {
		return
	}
	if d.RoomID == "" || len(d.Answer) == 0 {
		rt.dropMissingField(sender, EventAnswer, "roomId/answer")
		return
	}
	rt.fanout(rt.rooms.MembersExcept(d.RoomID, sender), EventAnswer, d.Answer)
}

// handleICECandidate 轉發 ICE candidate（載荷不透明）
func (rt *Router) handleICECandidate(sender *Client, raw json.RawMessage) {
	var d iceCandidateData
	if !rt.decode(sender, EventICECandidate, raw, &d) {
		return
	}
	if d.RoomID == "" || len(d.Candidate) == 0 {
		rt.dropMissingField(sender, EventICECandidate, "roomId/candidate")
		return
	}
	rt.fanout(rt.rooms.MembersExcept(d.RoomID, sender), EventICECandidate, d.Candidate)
}

// send 向單一連接投遞事件（非阻塞）
func (rt *Router) send(target *Client, event EventType, data any) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		rt.logger.Error("構建事件失敗", "error", err, "event", event)
		return
	}

	message, err := env.Marshal()
	if err != nil {
		rt.logger.Error("序列化事件失敗", "error", err, "event", event)
		return
	}

	target.enqueue(message)
}

// fanout 向一組連接投遞同一事件
//
// 只序列化一次。空收件人集合是合法的 no-op（房間裡沒有其他成員）。
func (rt *Router) fanout(targets []*Client, event EventType, data any) {
	if len(targets) == 0 {
		return
	}

	env, err := NewEnvelope(event, data)
	if err != nil {
		rt.logger.Error("構建事件失敗", "error", err, "event", event)
		return
	}

	message, err := env.Marshal()
	if err != nil {
		rt.logger.Error("序列化事件失敗", "error", err, "event", event)
		return
	}

	for _, target := range targets {
		target.enqueue(message)
	}
}

// decode 解碼事件載荷，失敗時記錄並返回 false
func (rt *Router) decode(sender *Client, event EventType, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		rt.logger.Warn("丟棄沒有載荷的事件",
			"event", event,
			"conn_id", sender.ID)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		rt.logger.Warn("丟棄載荷格式錯誤的事件",
			"event", event,
			"error", err,
			"conn_id", sender.ID)
		return false
	}
	return true
}

// dropMissingField 記錄缺少必填欄位的事件
func (rt *Router) dropMissingField(sender *Client, event EventType, field string) {
	rt.logger.Warn("丟棄缺少必填欄位的事件",
		"event", event,
		"field", field,
		"conn_id", sender.ID)
}
