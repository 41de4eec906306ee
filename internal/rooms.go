package internal

import (
	"sync"
)

// RoomDirectory 房間目錄
//
// 維護「房間 → 成員連接集合」的多對多關係，供信令轉發計算收件人。
//
// 系統設計考量：
//
//  1. 集合語義（map[*Client]struct{}）：
//     重複 join 同一房間不會造成重複投遞，冪等。
//
//  2. 反向索引（joined）：
//     斷線清理需要從所有房間移除該連接。若只有正向映射，
//     清理成本是 O(所有房間)；反向索引讓 LeaveAll 只遍歷
//     該連接實際加入的房間。
//
//  3. 惰性清理：
//     成員清空的房間直接刪除條目。「不存在的房間」與「空房間」
//     語義等價，join 時按需重建。
type RoomDirectory struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{} // roomID -> 成員集合
	joined map[*Client]map[string]struct{} // Client -> 已加入的房間（反向索引）
}

// NewRoomDirectory 創建房間目錄
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Join 將連接加入房間（冪等）
func (d *RoomDirectory) Join(roomID string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rooms[roomID] == nil {
		d.rooms[roomID] = make(map[*Client]struct{})
	}
	d.rooms[roomID][c] = struct{}{}

	if d.joined[c] == nil {
		d.joined[c] = make(map[string]struct{})
	}
	d.joined[c][roomID] = struct{}{}
}

// Leave 將連接移出房間
func (d *RoomDirectory) Leave(roomID string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(roomID, c)
}

// LeaveAll 將連接移出其加入的所有房間（斷線清理用）
//
// 成本是 O(該連接加入的房間數)，不受房間總數影響。冪等。
func (d *RoomDirectory) LeaveAll(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for roomID := range d.joined[c] {
		d.leaveLocked(roomID, c)
	}
}

// leaveLocked 移除成員並清理空房間（需持有寫鎖）
func (d *RoomDirectory) leaveLocked(roomID string, c *Client) {
	if members, ok := d.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(d.rooms, roomID)
		}
	}

	if roomSet, ok := d.joined[c]; ok {
		delete(roomSet, roomID)
		if len(roomSet) == 0 {
			delete(d.joined, c)
		}
	}
}

// MembersExcept 房間內除指定連接外的所有成員
//
// 信令轉發的核心原語：發送者永遠不會收到自己轉發的消息。
func (d *RoomDirectory) MembersExcept(roomID string, except *Client) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomID]
	if len(members) == 0 {
		return nil
	}

	result := make([]*Client, 0, len(members))
	for c := range members {
		if c != except {
			result = append(result, c)
		}
	}
	return result
}

// AllMembers 房間內的所有成員
func (d *RoomDirectory) AllMembers(roomID string) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomID]
	result := make([]*Client, 0, len(members))
	for c := range members {
		result = append(result, c)
	}
	return result
}

// Rooms 連接當前加入的房間列表
func (d *RoomDirectory) Rooms(c *Client) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]string, 0, len(d.joined[c]))
	for roomID := range d.joined[c] {
		result = append(result, roomID)
	}
	return result
}

// RoomCount 非空房間數量
func (d *RoomDirectory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
