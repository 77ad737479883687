package websocket

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Options struct {
	MaxConnPerUser int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

// Manager tracks connected clients per user and fans out commit events to
// them. Register, Unregister and HandleMessage are served by Run.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	log            *logger.Logger
	metrics        *metrics.Metrics
}

func NewManager(opts Options, log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: opts.MaxConnPerUser,
		maxMessageSize: opts.MaxMessageSize,
		writeWait:      opts.WriteWait,
		pongWait:       opts.PongWait,
		pingPeriod:     opts.PingPeriod,
		log:            log.Component("websocket"),
		metrics:        m,
	}
}

// Run serves the manager's channels until ctx ends, then disconnects everyone.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.log.Warn("max connections reached").Str("user_id", client.UserID).Send()
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true
	m.metrics.WebSocketConnected()

	m.log.Debug("client registered").
		Str("client_id", client.ID).
		Str("user_id", client.UserID).
		Str("device_id", client.DeviceID).
		Send()
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		m.removeLocked(client)
		m.log.Debug("client unregistered").Str("client_id", client.ID).Send()
	}
}

func (m *Manager) removeLocked(client *Client) {
	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)

	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	close(client.Send)
	m.metrics.WebSocketDisconnected()
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for _, client := range m.clients {
		m.removeLocked(client)
	}
}

// processMessage answers pings. Clients have nothing else to say; documents
// are written over HTTP where preconditions apply.
func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Debug("malformed client message").Str("client_id", clientMsg.Client.ID).Err(err).Send()
		return
	}

	var reply *Message
	var err error
	switch msg.Type {
	case TypePing:
		reply, err = NewMessage(TypePong, nil)
	default:
		reply, err = NewMessage(TypeError, &ErrorPayload{Error: "unsupported message type " + string(msg.Type)})
	}
	if err != nil {
		return
	}
	m.SendToClient(clientMsg.Client.ID, reply)
}

// DocumentCommitted pushes a commit to every connection of the document's owner.
func (m *Manager) DocumentCommitted(event *domain.CommitEvent) {
	msg, err := NewMessage(TypeDocumentCommitted, &DocumentCommittedPayload{
		DocumentType: event.Type,
		DocumentID:   event.ID,
		Operation:    string(event.Operation),
		DocVersion:   event.DocVersion,
		ETag:         strconv.Quote(strconv.FormatInt(event.DocVersion, 10)),
		CommittedAt:  event.At,
	})
	if err != nil {
		m.log.Warn("encode commit event").Err(err).Send()
		return
	}
	if err := m.BroadcastToUser(event.OwnerID, msg, ""); err != nil {
		m.log.Warn("broadcast commit event").Err(err).Send()
	}
}

func (m *Manager) BroadcastToUser(userID string, message *Message, excludeDeviceID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	var slow []*Client
	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range slow {
		m.log.Warn("send buffer full, closing connection").Str("client_id", client.ID).Send()
		m.unregisterClient(client)
	}
	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.log.Warn("send buffer full").Str("client_id", clientID).Send()
	}

	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.userIndex[userID])
}
