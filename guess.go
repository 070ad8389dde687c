// Guessbox guessing game
//
// Clients connect over a websocket, join a named room, and try to guess the
// identity of a randomly drawn subject. Room state (players, scores, the
// answer) lives in the store, not in the server process.
//
// Features:
// - One websocket endpoint; join/guess payloads carry the room id
// - Rooms exist implicitly: the first join into an unknown room draws its answer
// - Per-room leaderboards of tries and scores, recomputed from the store
// - Correct guesses reveal the subject and a photo link in the broadcast
// - Guess updates are broadcast to every open connection, by design
// - Random 8-char room IDs via crypto/rand
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "join" or "guess"
	Room     string `json:"room,omitempty"`     // join / guess
	Nickname string `json:"nickname,omitempty"` // join / guess
	Guess    string `json:"guess,omitempty"`    // guess
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

// Hub tracks every open connection server-wide. It knows nothing about
// rooms; it exists purely for message delivery.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

func newHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// sendTo delivers a message to one client. A client whose send buffer is
// full is dropped rather than allowed to stall the caller.
func (h *Hub) sendTo(c *Client, msg any) {
	h.mu.RLock()
	if !h.clients[c] {
		h.mu.RUnlock()
		return
	}

	select {
	case c.send <- msg:
		h.mu.RUnlock()
	default:
		h.mu.RUnlock()
		h.unregister(c)
	}
}

// broadcastAll delivers a message to every open connection independently;
// one slow or dead client never blocks delivery to the rest.
func (h *Hub) broadcastAll(msg any) {
	var stale []*Client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.unregister(c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, hub *Hub, session *GameSession) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		hub.register(client)
		logf(cfg, "SERVE: Connection opened by %s (%d open)", realIP(r), hub.clientCount())

		hub.sendTo(client, ConnectedMessage{
			Type:    "connected",
			Message: "Welcome!",
		})

		go client.writePump()
		client.readPump(cfg, hub, session)

		logf(cfg, "SERVE: Connection closed by %s (%d open)", realIP(r), hub.clientCount())
	}
}

func (c *Client) readPump(cfg *Config, hub *Hub, session *GameSession) {
	defer func() {
		hub.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// Unparseable frames are dropped without a reply, and without
		// closing the connection.
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		ctx := context.Background()

		switch msg.Type {
		case "join":
			joined, err := session.HandleJoin(ctx, msg.Room, msg.Nickname)
			if err != nil {
				logf(cfg, "STORE: Join failed for %q in %q: %v", msg.Nickname, msg.Room, err)
				hub.sendTo(c, ErrorMessage{
					Type:    "error",
					Message: "The game backend is unavailable. Please try again.",
				})
				continue
			}
			if joined != nil {
				hub.sendTo(c, joined)
			}

		case "guess":
			update, err := session.HandleGuess(ctx, msg.Room, msg.Nickname, msg.Guess)
			if err != nil {
				logf(cfg, "STORE: Guess failed for %q in %q: %v", msg.Nickname, msg.Room, err)
				hub.sendTo(c, ErrorMessage{
					Type:    "error",
					Message: "The game backend is unavailable. Please try again.",
				})
				continue
			}
			if update != nil {
				hub.broadcastAll(update)
			}

		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// randomRoomID generates a crypto-random room ID. Rooms are namespaces over
// store keys, so collisions are harmless; a colliding visitor just joins the
// existing room.
func randomRoomID(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, letters[int(b)%len(letters)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}

	return string(out)
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed guess/index.html
var indexHTML []byte

//go:embed guess/app.css
var guessboxCSS []byte

//go:embed guess/app.js
var guessboxJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guessboxCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guessboxJS)
	}
}

// redirectNewRoom handles GET /path by generating a new random room ID and
// redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := randomRoomID(8)
		logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerGuessGame sets up routes so that:
//   - /ws                → the shared WebSocket endpoint
//   - $path              → redirects to a new random room (8-char ID)
//   - $path/:roomid      → HTML client
//   - $path/:roomid/qr   → PNG QR code for that room URL
func registerGuessGame(cfg *Config, path string, mux *httprouter.Router, hub *Hub, session *GameSession) {
	// One websocket for every room; the room travels inside each message
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, hub, session))

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	// Shared assets (no roomid in route)
	mux.GET(cfg.prefix+"/assets/guess/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/guess/app.js", getJsHandler(cfg))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
