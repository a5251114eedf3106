// Package hub is the in-process registry and broadcaster for real-time
// sandbox events: log lines, environment status transitions and terminal
// output, fanned out to every subscribed websocket client.
package hub

import (
	"sync"
	"time"

	"sandboxd/internal/controlplane/model"

	"go.uber.org/zap"
)

const pingWriteTimeout = 5 * time.Second

// Hub tracks live client connections and their environment/session
// subscriptions. All registry mutation happens under one mutex; socket
// writes happen outside it so a slow client never blocks registration.
type Hub struct {
	mu          sync.Mutex
	clients     map[string]*Client
	envSubs     map[string]map[string]struct{}
	sessionSubs map[string]map[string]struct{}

	log *zap.Logger
	now func() time.Time
}

// Stats is the hub's observable cardinality.
type Stats struct {
	TotalClients           int `json:"totalClients"`
	SubscribedEnvironments int `json:"subscribedEnvironments"`
	SubscribedSessions     int `json:"subscribedSessions"`
}

// NewHub builds an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:     make(map[string]*Client),
		envSubs:     make(map[string]map[string]struct{}),
		sessionSubs: make(map[string]map[string]struct{}),
		log:         log,
		now:         time.Now,
	}
}

// Register creates and stores a connection for the given socket. The
// transport layer calls RecordLiveness whenever a pong arrives.
func (h *Hub) Register(id, userID string, sock Socket) *Client {
	client := newClient(id, userID, sock, h.now())
	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()

	h.log.Info("client registered",
		zap.String("client_id", id), zap.String("user_id", userID))
	return client
}

// Unregister removes the connection and purges it from every subscriber set
// it belonged to. Unknown ids are a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, known := h.clients[id]
	delete(h.clients, id)
	purge(h.envSubs, id)
	purge(h.sessionSubs, id)
	h.mu.Unlock()

	if known {
		h.log.Info("client unregistered", zap.String("client_id", id))
	}
}

func purge(subs map[string]map[string]struct{}, clientID string) {
	for key, set := range subs {
		delete(set, clientID)
		if len(set) == 0 {
			delete(subs, key)
		}
	}
}

// SubscribeEnvironment adds the client to an environment's subscriber set.
// Unknown client ids are logged and ignored.
func (h *Hub) SubscribeEnvironment(clientID, environmentID string) {
	h.subscribe(h.envSubs, clientID, environmentID, "environment")
}

// UnsubscribeEnvironment removes the client from an environment's set.
func (h *Hub) UnsubscribeEnvironment(clientID, environmentID string) {
	h.unsubscribe(h.envSubs, clientID, environmentID)
}

// SubscribeSession adds the client to a terminal session's subscriber set.
func (h *Hub) SubscribeSession(clientID, sessionID string) {
	h.subscribe(h.sessionSubs, clientID, sessionID, "session")
}

// UnsubscribeSession removes the client from a session's set.
func (h *Hub) UnsubscribeSession(clientID, sessionID string) {
	h.unsubscribe(h.sessionSubs, clientID, sessionID)
}

func (h *Hub) subscribe(subs map[string]map[string]struct{}, clientID, key, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[clientID]; !ok {
		h.log.Warn("subscribe from unknown client",
			zap.String("client_id", clientID),
			zap.String(kind, key))
		return
	}
	set, ok := subs[key]
	if !ok {
		set = make(map[string]struct{})
		subs[key] = set
	}
	set[clientID] = struct{}{}
}

func (h *Hub) unsubscribe(subs map[string]map[string]struct{}, clientID, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := subs[key]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(subs, key)
		}
	}
}

// BroadcastLog delivers a log line to every client subscribed to its
// environment.
func (h *Hub) BroadcastLog(event model.LogEvent) {
	h.fanOut(h.subscribers(h.envSubs, event.EnvironmentID), Envelope{
		Type:      TypeLog,
		Payload:   event,
		Timestamp: h.now(),
	})
}

// BroadcastEnvironmentStatus delivers a status transition to every client
// subscribed to its environment.
func (h *Hub) BroadcastEnvironmentStatus(event model.StatusEvent) {
	h.fanOut(h.subscribers(h.envSubs, event.EnvironmentID), Envelope{
		Type:      TypeEnvStatus,
		Payload:   event,
		Timestamp: h.now(),
	})
}

// SendTerminalOutput delivers terminal output to every client subscribed to
// its session.
func (h *Hub) SendTerminalOutput(event model.TerminalEvent) {
	h.fanOut(h.subscribers(h.sessionSubs, event.SessionID), Envelope{
		Type:      TypeTerminalOutput,
		Payload:   event,
		Timestamp: h.now(),
	})
}

// subscribers snapshots the subscriber set into client pointers under lock.
func (h *Hub) subscribers(subs map[string]map[string]struct{}, key string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := subs[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for id := range set {
		if client, ok := h.clients[id]; ok {
			out = append(out, client)
		}
	}
	return out
}

// fanOut writes the envelope to each target. A failing client is logged and
// skipped; one broken socket must not starve the remaining subscribers.
// Removal happens only via explicit Unregister or the ping sweep.
func (h *Hub) fanOut(targets []*Client, env Envelope) {
	now := h.now()
	for _, client := range targets {
		if err := client.send(env, now); err != nil {
			h.log.Warn("broadcast delivery failed",
				zap.String("client_id", client.ID),
				zap.String("type", string(env.Type)),
				zap.Error(err))
		}
	}
}

// SendToClient delivers a single envelope to one client.
func (h *Hub) SendToClient(clientID string, env Envelope) error {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return client.send(env, h.now())
}

// SendError delivers a typed error message to one client.
func (h *Hub) SendError(clientID, message string) {
	err := h.SendToClient(clientID, Envelope{
		Type:      TypeError,
		Payload:   map[string]string{"message": message},
		Timestamp: h.now(),
	})
	if err != nil {
		h.log.Warn("error delivery failed",
			zap.String("client_id", clientID), zap.Error(err))
	}
}

// RecordLiveness bumps the client's last-activity timestamp. The transport
// layer calls this from its pong handler.
func (h *Hub) RecordLiveness(clientID string, now time.Time) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	h.mu.Unlock()
	if ok {
		client.touch(now)
	}
}

// PingAll probes every connection. Connections whose socket rejects the
// probe are removed from the registry, healing silently dropped sockets.
// An external scheduler invokes this periodically.
func (h *Hub) PingAll() {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.Unlock()

	deadline := h.now().Add(pingWriteTimeout)
	for _, client := range targets {
		if err := client.ping(deadline); err != nil {
			h.log.Info("reaping dead connection",
				zap.String("client_id", client.ID), zap.Error(err))
			h.Unregister(client.ID)
			client.close()
		}
	}
}

// CloseAll closes every socket with a normal-closure code and clears all
// registries. Used for graceful process shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.clients = make(map[string]*Client)
	h.envSubs = make(map[string]map[string]struct{})
	h.sessionSubs = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, client := range targets {
		client.close()
	}
}

// Stats reports the cardinality of each registry.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		TotalClients:           len(h.clients),
		SubscribedEnvironments: len(h.envSubs),
		SubscribedSessions:     len(h.sessionSubs),
	}
}
