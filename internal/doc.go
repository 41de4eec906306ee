// Package internal 實現 SOS 警報平台的即時事件轉發服務。
//
// 系統設計問題：
//
//	管理端如何即時看到用戶端的求救直播，並在新警報落庫時立刻收到通知？
//
// 核心組件：
//
//   - Presence：在線註冊表，「用戶身份 → 當前連接」（presence.go）
//   - RoomDirectory：房間目錄，「房間 → 成員連接集合」（rooms.go）
//   - Router：信令路由器，窮舉匹配入站事件並計算收件人（router.go）
//   - Hub / Client：連接生命週期管理與全域廣播（websocket.go）
//   - AlertSource / Handler：警報事件的兩條入口（alerts.go, handler.go）
//
// 控制流：
//
//	WebSocket 升級 → Hub 創建 Client → readPump 逐條交給 Router
//	→ Router 查 Presence / RoomDirectory 決定收件人 → 非阻塞入隊
//	→ writePump 寫出。連接關閉時 Hub 依序清理兩個註冊表。
//	警報通知由外部持久層觸發（HTTP 回調或 NATS），直接全域廣播。
//
// 投遞語義：best-effort、無確認、無重試。發送者永遠看不到轉發失敗，
// 目標不在線視為正常的靜默 no-op。帳號認證、密碼、警報記錄的存取
// 都屬於外部服務；身份字符串在這一層只是不透明標籤。
package internal
