// Package ws pushes collection run events to dashboard clients over
// websockets, scoped by project subscription.
package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// SubscribeAll is the wildcard project subscription.
const SubscribeAll = "*"

// BroadcastMessage packages a payload for a project-scoped broadcast.
type BroadcastMessage struct {
	Project string
	Payload []byte
}

// Hub manages active clients and project-scoped broadcasts.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
}

// NewHub builds a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage),
	}
}

// Run starts the hub loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.Subscribed(message.Project) {
					continue
				}
				select {
				case client.Send <- message.Payload:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Broadcast sends a payload to every client subscribed to the project.
func (h *Hub) Broadcast(project string, payload []byte) {
	h.broadcast <- BroadcastMessage{Project: project, Payload: payload}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Client represents a websocket connection with its project subscriptions.
type Client struct {
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte

	mu       sync.RWMutex
	projects map[string]bool
}

// NewClient returns a client ready for registration.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, 256),
		projects: make(map[string]bool),
	}
}

// Subscribe adds a project to the client's subscription set.
func (c *Client) Subscribe(project string) {
	c.mu.Lock()
	c.projects[project] = true
	c.mu.Unlock()
}

// Unsubscribe removes a project from the client's subscription set.
func (c *Client) Unsubscribe(project string) {
	c.mu.Lock()
	delete(c.projects, project)
	c.mu.Unlock()
}

// Subscribed reports whether the client should receive events for the project.
func (c *Client) Subscribed(project string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.projects[project] || c.projects[SubscribeAll]
}
