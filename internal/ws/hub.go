// Package ws is the realtime subscriber surface: a websocket hub
// whose clients join named fan-out groups (device:{id}, sensor:{id},
// all-devices, alerts) and receive a copy of every event published to
// those groups.
package ws

import (
	"context"
	"encoding/json"

	"iotmon/internal/logger"
	"iotmon/internal/metrics"
)

// Message is the wire frame delivered to subscribers.
type Message struct {
	Event   string      `json:"event"`
	Group   string      `json:"group,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type subscription struct {
	client *Client
	group  string
}

type groupMessage struct {
	group string
	data  []byte
}

// Hub maintains the set of active clients and routes group-addressed
// messages to the clients subscribed to each group.
type Hub struct {
	clients map[*Client]map[string]struct{}
	groups  map[string]map[*Client]struct{}

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan groupMessage
}

// NewHub creates an empty hub. Run must be started before clients
// connect.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]map[string]struct{}),
		groups:      make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan groupMessage, 256),
	}
}

// Run owns all hub state; every mutation goes through its channels.
func (h *Hub) Run(ctx context.Context) {
	log := logger.WithComponent("ws_hub")
	log.Info().Msg("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			log.Info().Msg("websocket hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]struct{})
			metrics.WSClientsConnected.Set(float64(len(h.clients)))
			log.Debug().Str("remote_addr", client.conn.RemoteAddr().String()).Msg("client registered")

		case client := <-h.unregister:
			h.removeClient(client)
			metrics.WSClientsConnected.Set(float64(len(h.clients)))

		case sub := <-h.subscribe:
			if groups, ok := h.clients[sub.client]; ok {
				groups[sub.group] = struct{}{}
				if h.groups[sub.group] == nil {
					h.groups[sub.group] = make(map[*Client]struct{})
				}
				h.groups[sub.group][sub.client] = struct{}{}
				sub.client.enqueue(mustMarshal(Message{Event: "Subscribed", Group: sub.group}))
			}

		case sub := <-h.unsubscribe:
			if groups, ok := h.clients[sub.client]; ok {
				delete(groups, sub.group)
				h.dropFromGroup(sub.client, sub.group)
				sub.client.enqueue(mustMarshal(Message{Event: "Unsubscribed", Group: sub.group}))
			}

		case msg := <-h.publish:
			for client := range h.groups[msg.group] {
				if !client.enqueue(msg.data) {
					// Slow client: drop it rather than block the hub.
					log.Warn().Str("remote_addr", client.conn.RemoteAddr().String()).
						Msg("client send buffer full, disconnecting")
					h.removeClient(client)
					metrics.WSClientsConnected.Set(float64(len(h.clients)))
				}
			}
		}
	}
}

// Publish routes an event to one group's subscribers without
// blocking; when the hub's queue is full the frame is dropped.
// Implements notify.Notifier.
func (h *Hub) Publish(group, event string, payload interface{}) {
	data, err := json.Marshal(Message{Event: event, Group: group, Payload: payload})
	if err != nil {
		log := logger.WithComponent("ws_hub")
		log.Error().Err(err).Str("event", event).
			Msg("failed to marshal event")
		return
	}

	select {
	case h.publish <- groupMessage{group: group, data: data}:
	default:
		log := logger.WithComponent("ws_hub")
		log.Warn().Str("group", group).Str("event", event).
			Msg("hub publish queue full, dropping frame")
	}
}

func (h *Hub) removeClient(client *Client) {
	groups, ok := h.clients[client]
	if !ok {
		return
	}
	for group := range groups {
		h.dropFromGroup(client, group)
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) dropFromGroup(client *Client, group string) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func mustMarshal(m Message) []byte {
	data, _ := json.Marshal(m)
	return data
}
