package internal_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/sos-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRouter_JoinRoomNotifiesPeers 測試加入房間時通知既有成員
func TestRouter_JoinRoomNotifiesPeers(t *testing.T) {
	relay := newTestRelay(t)

	wsUser := relay.dial(t)
	wsAdmin := relay.dial(t)

	relay.joinRoom(t, wsUser, "room-42", "user", 1)
	relay.joinRoom(t, wsAdmin, "room-42", "admin", 2)

	// 既有成員收到 user-joined，帶上加入者的角色
	env, ok := readEvent(t, wsUser, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, internal.EventUserJoined, env.Event)

	var data struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "admin", data.Role)

	// 加入者本人收不到自己的加入通知
	expectNoEvent(t, wsAdmin, 300*time.Millisecond)
}

// TestRouter_DuplicateJoin 測試重複加入不會造成重複投遞
func TestRouter_DuplicateJoin(t *testing.T) {
	relay := newTestRelay(t)

	wsA := relay.dial(t)
	wsB := relay.dial(t)

	relay.joinRoom(t, wsA, "room-1", "user", 1)
	relay.joinRoom(t, wsB, "room-1", "admin", 2)
	_, _ = readEvent(t, wsA, 2*time.Second) // 排掉 B 的加入通知

	// B 重複加入同一房間
	relay.joinRoom(t, wsB, "room-1", "admin", 2)
	_, _ = readEvent(t, wsA, 2*time.Second)

	members := relay.rooms.AllMembers("room-1")
	assert.Len(t, members, 2, "重複加入不應使成員重複出現")

	// A 轉發 offer，B 恰好收到一次
	offer := map[string]any{"type": "offer", "sdp": "v=0..."}
	sendEvent(t, wsA, "offer", map[string]any{"roomId": "room-1", "offer": offer})

	env, ok := readEvent(t, wsB, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, internal.EventOffer, env.Event)
	expectNoEvent(t, wsB, 300*time.Millisecond)
}

// TestRouter_RelayOffer 測試 offer 原樣轉發給房間內其他成員
//
// 場景：c1、c2、c3 都在房間裡；c1 發 offer；c2、c3 各收到一次
// 完全相同的載荷，c1 自己什麼都收不到。
func TestRouter_RelayOffer(t *testing.T) {
	relay := newTestRelay(t)

	ws1 := relay.dial(t)
	ws2 := relay.dial(t)
	ws3 := relay.dial(t)

	relay.joinRoom(t, ws1, "room-7", "user", 1)
	relay.joinRoom(t, ws2, "room-7", "admin", 2)
	relay.joinRoom(t, ws3, "room-7", "admin", 3)

	// 排掉加入通知
	_, _ = readEvent(t, ws1, 2*time.Second)
	_, _ = readEvent(t, ws1, 2*time.Second)
	_, _ = readEvent(t, ws2, 2*time.Second)

	offer := map[string]any{"type": "offer", "sdp": "v=0 o=- 46117 2"}
	sendEvent(t, ws1, "offer", map[string]any{"roomId": "room-7", "offer": offer})

	for _, ws := range []*websocket.Conn{ws2, ws3} {
		env, ok := readEvent(t, ws, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, internal.EventOffer, env.Event)

		// 載荷原樣到達，未被修改
		var got map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "offer", got["type"])
		assert.Equal(t, "v=0 o=- 46117 2", got["sdp"])

		expectNoEvent(t, ws, 300*time.Millisecond)
	}

	// 發送者收不到自己的 offer
	expectNoEvent(t, ws1, 300*time.Millisecond)
}

// TestRouter_RelayAnswer 測試 answer 轉發
func TestRouter_RelayAnswer(t *testing.T) {
	relay := newTestRelay(t)

	wsUser := relay.dial(t)
	wsAdmin := relay.dial(t)

	relay.joinRoom(t, wsUser, "room-9", "user", 1)
	relay.joinRoom(t, wsAdmin, "room-9", "admin", 2)
	_, _ = readEvent(t, wsUser, 2*time.Second)

	answer := map[string]any{"type": "answer", "sdp": "v=0..."}
	sendEvent(t, wsAdmin, "answer", map[string]any{"roomId": "room-9", "answer": answer})

	env, ok := readEvent(t, wsUser, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, internal.EventAnswer, env.Event)

	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "answer", got["type"])
}

// TestRouter_RelayICECandidate 測試 ICE candidate 轉發
//
// 場景：三條連接加入 room-42；一條發 candidate；另外兩條各收到
// 一次相同載荷，發送者什麼都收不到。
func TestRouter_RelayICECandidate(t *testing.T) {
	relay := newTestRelay(t)

	ws1 := relay.dial(t)
	ws2 := relay.dial(t)
	ws3 := relay.dial(t)

	relay.joinRoom(t, ws1, "room-42", "user", 1)
	relay.joinRoom(t, ws2, "room-42", "admin", 2)
	relay.joinRoom(t, ws3, "room-42", "admin", 3)

	_, _ = readEvent(t, ws1, 2*time.Second)
	_, _ = readEvent(t, ws1, 2*time.Second)
	_, _ = readEvent(t, ws2, 2*time.Second)

	sendEvent(t, ws1, "ice-candidate", map[string]any{
		"roomId":    "room-42",
		"candidate": map[string]any{"candidate": "X"},
	})

	for _, ws := range []*websocket.Conn{ws2, ws3} {
		env, ok := readEvent(t, ws, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, internal.EventICECandidate, env.Event)

		var got map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "X", got["candidate"])
		expectNoEvent(t, ws, 300*time.Millisecond)
	}

	expectNoEvent(t, ws1, 300*time.Millisecond)
}

// TestRouter_RelayToEmptyRoom 測試對沒有其他成員的房間轉發是合法 no-op
func TestRouter_RelayToEmptyRoom(t *testing.T) {
	relay := newTestRelay(t)

	ws := relay.dial(t)
	relay.joinRoom(t, ws, "lonely", "user", 1)

	sendEvent(t, ws, "offer", map[string]any{
		"roomId": "lonely",
		"offer":  map[string]any{"type": "offer"},
	})

	// 零投遞、無錯誤，連接保持可用
	expectNoEvent(t, ws, 300*time.Millisecond)
	relay.registerUser(t, ws, "still-here")
}

// TestRouter_RelayScopedToRoom 測試轉發只到達目標房間
func TestRouter_RelayScopedToRoom(t *testing.T) {
	relay := newTestRelay(t)

	wsA := relay.dial(t)
	wsB := relay.dial(t)
	wsOther := relay.dial(t)

	relay.joinRoom(t, wsA, "room-a", "user", 1)
	relay.joinRoom(t, wsB, "room-a", "admin", 2)
	relay.joinRoom(t, wsOther, "room-b", "admin", 1)
	_, _ = readEvent(t, wsA, 2*time.Second)

	sendEvent(t, wsA, "offer", map[string]any{
		"roomId": "room-a",
		"offer":  map[string]any{"type": "offer"},
	})

	_, ok := readEvent(t, wsB, 2*time.Second)
	require.True(t, ok)

	// 別的房間的成員收不到
	expectNoEvent(t, wsOther, 300*time.Millisecond)
}
