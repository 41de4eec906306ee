package internal

import (
	"sync"
)

// Presence 在線註冊表
//
// 維護「用戶身份 → 當前連接」的映射，支持按身份定向投遞。
//
// 系統設計考量：
//
//  1. 覆蓋語義：
//     同一身份重複註冊時，新連接覆蓋舊映射（用戶換設備、斷線重連）。
//     舊連接不會被關閉，只是不再作為該身份的投遞目標。
//
//  2. 按連接清理（而非按身份）：
//     斷線清理必須比對連接 ID 再刪除。若只按身份刪除，
//     舊連接延遲斷開時會誤刪新連接剛建立的映射。
//
//  3. 查無此人不是錯誤：
//     Lookup 返回 (nil, false) 表示目標不在線，調用方靜默跳過投遞。
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]*Client // userID -> Client
}

// NewPresence 創建在線註冊表
func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]*Client),
	}
}

// Register 註冊身份映射（覆蓋舊映射）
func (p *Presence) Register(userID string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byUser[userID] = c
}

// Lookup 查找身份對應的連接
func (p *Presence) Lookup(userID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byUser[userID]
	return c, ok
}

// RemoveByConnection 移除該連接持有的所有身份映射
//
// 按連接 ID 比對：映射已被其他連接覆蓋時不會誤刪，無匹配時為 no-op。
// 冪等，斷線清理重複調用也安全。
func (p *Presence) RemoveByConnection(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for userID, cur := range p.byUser {
		if cur.ID == c.ID {
			delete(p.byUser, userID)
		}
	}
}

// Count 在線身份數量
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
