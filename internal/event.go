package internal

import (
	"encoding/json"
	"fmt"
)

// 系統設計問題：
//   如何定義客戶端與服務器之間的事件協議，避免打錯事件名稱被默默忽略？
//
// 核心挑戰：
//   1. 事件種類封閉：路由器必須窮舉所有已知事件，未知事件明確記錄
//   2. 載荷不透明：信令內容（offer/answer/candidate）只轉發、不解析
//   3. 錯誤容忍：格式錯誤的事件丟棄並記錄，絕不中斷連接
//
// 設計方案：
//   ✅ EventType 字符串常量 - 封閉集合，switch 窮舉匹配
//   ✅ json.RawMessage - 延遲解碼，不透明轉發
//   ✅ 按事件類型定義載荷結構 - 缺少必填欄位視為格式錯誤

// EventType 事件類型
type EventType string

// 客戶端發來的事件
const (
	// EventRegisterUser 用戶上線註冊身份
	EventRegisterUser EventType = "register_user"
	// EventRequestLiveVideo 管理端請求指定用戶開始直播
	EventRequestLiveVideo EventType = "request_live_video"
	// EventReconnectStream 管理端刷新後請求用戶重新發送 offer
	EventReconnectStream EventType = "reconnect_user_stream"
	// EventStreamRejected 用戶拒絕直播請求
	EventStreamRejected EventType = "live_stream_rejected"
	// EventStreamStopped 用戶停止直播
	EventStreamStopped EventType = "live_stream_stopped"
	// EventJoinRoom 加入信令房間（WebRTC 協商用）
	EventJoinRoom EventType = "join-room"
	// EventOffer WebRTC offer
	EventOffer EventType = "offer"
	// EventAnswer WebRTC answer
	EventAnswer EventType = "answer"
	// EventICECandidate WebRTC ICE candidate
	EventICECandidate EventType = "ice-candidate"
)

// 服務器推送的事件（僅出站）
const (
	// EventUserJoined 通知房間內其他成員有新成員加入
	EventUserJoined EventType = "user-joined"
	// EventNewAlert 新警報通知（全域廣播）
	EventNewAlert EventType = "new_alert"
)

// Envelope 線上傳輸的事件信封
//
// 所有進出站消息都是 {"event": "...", "data": {...}} 形式。
// Data 保持 json.RawMessage：
//   - 入站：路由器根據 Event 決定解碼成哪個載荷結構
//   - 出站：信令載荷原樣轉發，不做任何解析或修改
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope 構建事件信封
//
// data 若已是 json.RawMessage 或 []byte 則直接採用（不透明轉發），
// 否則序列化為 JSON。
func NewEnvelope(event EventType, data any) (Envelope, error) {
	switch v := data.(type) {
	case nil:
		return Envelope{Event: event}, nil
	case json.RawMessage:
		return Envelope{Event: event, Data: v}, nil
	case []byte:
		return Envelope{Event: event, Data: json.RawMessage(v)}, nil
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("序列化事件載荷失敗: %w", err)
		}
		return Envelope{Event: event, Data: raw}, nil
	}
}

// Marshal 序列化信封
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// 各事件的載荷結構
//
// 欄位名稱遵循線上協議（camelCase）。缺少必填欄位的事件由路由器
// 丟棄並記錄，不會關閉連接。

type registerUserData struct {
	UserID string `json:"userId"`
}

type requestLiveVideoData struct {
	TargetUserID string `json:"targetUserId"`
}

type reconnectStreamData struct {
	UserID string `json:"userId"`
}

// streamStateData live_stream_rejected / live_stream_stopped 共用
type streamStateData struct {
	UserID string `json:"userId"`
}

type joinRoomData struct {
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

type userJoinedData struct {
	Role string `json:"role"`
}

type offerData struct {
	RoomID string          `json:"roomId"`
	Offer  json.RawMessage `json:"offer"`
}

type answerData struct {
	RoomID string          `json:"roomId"`
	Answer json.RawMessage `json:"answer"`
}

type iceCandidateData struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}
