package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(maxConn int) *Manager {
	return NewManager(Options{
		MaxConnPerUser: maxConn,
		MaxMessageSize: 1024,
		WriteWait:      time.Second,
		PongWait:       time.Minute,
		PingPeriod:     50 * time.Second,
	}, logger.Nop(), nil)
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return &msg
	default:
		t.Fatal("no message queued")
		return nil
	}
}

func TestDocumentCommittedReachesOwnerOnly(t *testing.T) {
	m := newTestManager(5)
	alice1 := NewClient("c1", "alice", "laptop", nil, m)
	alice2 := NewClient("c2", "alice", "phone", nil, m)
	bob := NewClient("c3", "bob", "laptop", nil, m)
	m.registerClient(alice1)
	m.registerClient(alice2)
	m.registerClient(bob)

	m.DocumentCommitted(&domain.CommitEvent{
		Type: "notes", ID: "n1", OwnerID: "alice",
		Operation: domain.OperationUpdate, DocVersion: 4,
	})

	for _, c := range []*Client{alice1, alice2} {
		msg := receive(t, c)
		assert.Equal(t, TypeDocumentCommitted, msg.Type)

		var payload DocumentCommittedPayload
		require.NoError(t, msg.UnmarshalPayload(&payload))
		assert.Equal(t, "n1", payload.DocumentID)
		assert.Equal(t, int64(4), payload.DocVersion)
		assert.Equal(t, `"4"`, payload.ETag)
		assert.Equal(t, "update", payload.Operation)
	}
	assert.Empty(t, bob.Send)
}

func TestRegisterEnforcesConnectionLimit(t *testing.T) {
	m := newTestManager(1)
	first := NewClient("c1", "alice", "laptop", nil, m)
	second := NewClient("c2", "alice", "phone", nil, m)

	m.registerClient(first)
	m.registerClient(second)

	assert.Equal(t, 1, m.GetUserConnections("alice"))
	_, open := <-second.Send
	assert.False(t, open)
}

func TestUnregisterClosesSend(t *testing.T) {
	m := newTestManager(2)
	c := NewClient("c1", "alice", "laptop", nil, m)
	m.registerClient(c)
	m.unregisterClient(c)

	assert.Equal(t, 0, m.GetUserConnections("alice"))
	_, open := <-c.Send
	assert.False(t, open)

	// A second unregister is a no-op.
	assert.NotPanics(t, func() { m.unregisterClient(c) })
}

func TestSlowClientIsDropped(t *testing.T) {
	m := newTestManager(2)
	c := NewClient("c1", "alice", "laptop", nil, m)
	m.registerClient(c)

	for i := 0; i < sendBufferSize; i++ {
		c.Send <- []byte("{}")
	}
	m.DocumentCommitted(&domain.CommitEvent{Type: "notes", ID: "n1", OwnerID: "alice", DocVersion: 2})

	assert.Equal(t, 0, m.GetUserConnections("alice"))
}

func TestPingGetsPong(t *testing.T) {
	m := newTestManager(2)
	c := NewClient("c1", "alice", "laptop", nil, m)
	m.registerClient(c)

	ping, err := json.Marshal(&Message{Type: TypePing})
	require.NoError(t, err)
	m.processMessage(&ClientMessage{Client: c, Message: ping})

	assert.Equal(t, TypePong, receive(t, c).Type)

	other, err := json.Marshal(&Message{Type: "sync_request"})
	require.NoError(t, err)
	m.processMessage(&ClientMessage{Client: c, Message: other})

	assert.Equal(t, TypeError, receive(t, c).Type)
}
