// Package sshhost is a small game host reachable over SSH. Players log in
// with any public key; the key fingerprint is their identifier. It lets the
// ban manager run without a real game server.
package sshhost

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"

	"github.com/NicolasHaas/gobans/pkg/crypto"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// AdminPrefix, followed by a space, marks a line for the admin channel.
const AdminPrefix = "/a"

// Sink receives events from the host.
type Sink interface {
	HandleChat(ev model.ChatEvent)
	HandleConnect(ev model.ConnectEvent)
}

// Options configures a Host.
type Options struct {
	Addr    string
	HostKey gossh.Signer
	Now     func() time.Time
	Logger  *slog.Logger
}

// Host tracks connected players and relays their chat.
type Host struct {
	mu      sync.RWMutex
	clients map[string]*client // player id -> client
	sink    Sink

	srv    *ssh.Server
	now    func() time.Time
	log    *slog.Logger
	guests atomic.Uint64
}

type client struct {
	player model.Player
	crlf   bool

	mu      sync.Mutex
	w       io.Writer
	closeFn func() error
	closed  bool
}

// New creates a Host. Events are dropped until SetSink is called.
func New(opts Options) *Host {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Host{
		clients: make(map[string]*client),
		now:     opts.Now,
		log:     opts.Logger,
	}
	h.srv = &ssh.Server{
		Addr:    opts.Addr,
		Handler: h.handleSession,
		PublicKeyHandler: func(ssh.Context, ssh.PublicKey) bool {
			return true
		},
	}
	if opts.HostKey != nil {
		h.srv.AddHostKey(opts.HostKey)
	}
	return h
}

// SetSink sets the receiver of chat and connect events.
func (h *Host) SetSink(s Sink) {
	h.mu.Lock()
	h.sink = s
	h.mu.Unlock()
}

// ListenAndServe listens on the configured address. It returns nil after
// Close.
func (h *Host) ListenAndServe() error {
	h.log.Info("SSH host listening", "addr", h.srv.Addr)
	err := h.srv.ListenAndServe()
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on ln. It returns nil after Close.
func (h *Host) Serve(ln net.Listener) error {
	err := h.srv.Serve(ln)
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops accepting connections and drops every session.
func (h *Host) Close() error {
	return h.srv.Close()
}

// Players returns the connected players sorted by name.
func (h *Host) Players() []model.Player {
	h.mu.RLock()
	out := make([]model.Player, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.player)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Kick shows reason to the player and ends their session. Kicking a
// player who is not connected does nothing.
func (h *Host) Kick(subjectID, reason string) {
	h.mu.Lock()
	c, ok := h.clients[subjectID]
	if ok {
		delete(h.clients, subjectID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.send("Kicked: " + reason)
	c.close()
	h.log.Info("player kicked", "subject", subjectID, "name", c.player.Name)
}

// Warn sends text to one player.
func (h *Host) Warn(subjectID, text string) {
	h.mu.RLock()
	c, ok := h.clients[subjectID]
	h.mu.RUnlock()
	if ok {
		c.send("[warn] " + text)
	}
}

// Broadcast sends text to every player.
func (h *Host) Broadcast(text string) {
	for _, c := range h.snapshot() {
		c.send(text)
	}
}

func (h *Host) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Host) currentSink() Sink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sink
}

// join registers a player. It fails if the same key is already connected.
func (h *Host) join(c *client) bool {
	h.mu.Lock()
	if _, exists := h.clients[c.player.ID]; exists {
		h.mu.Unlock()
		return false
	}
	h.clients[c.player.ID] = c
	sink := h.sink
	h.mu.Unlock()

	h.log.Info("player connected", "subject", c.player.ID, "name", c.player.Name)
	if sink != nil {
		sink.HandleConnect(model.ConnectEvent{Player: c.player, At: h.now()})
	}
	return true
}

func (h *Host) leave(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.player.ID]; ok && cur == c {
		delete(h.clients, c.player.ID)
	}
	h.mu.Unlock()
	c.close()
}

// chat relays one line typed by c.
func (h *Host) chat(c *client, line string) {
	line = strings.TrimSpace(line)
	channel := model.ChannelAll
	if rest, ok := strings.CutPrefix(line, AdminPrefix); ok && (rest == "" || rest[0] == ' ') {
		channel = model.ChannelAdmin
		line = strings.TrimSpace(rest)
	}
	if line == "" {
		return
	}

	if channel == model.ChannelAdmin {
		c.send(fmt.Sprintf("[admin] <%s> %s", c.player.Name, line))
	} else {
		h.Broadcast(fmt.Sprintf("<%s> %s", c.player.Name, line))
	}
	if sink := h.currentSink(); sink != nil {
		sink.HandleChat(model.ChatEvent{
			SubjectID:   c.player.ID,
			DisplayName: c.player.Name,
			Channel:     channel,
			Text:        line,
		})
	}
}

func (h *Host) handleSession(s ssh.Session) {
	key := s.PublicKey()
	if key == nil {
		_, _ = fmt.Fprintln(s, "A public key is required.")
		_ = s.Exit(1)
		return
	}

	name := model.SanitizeName(s.User())
	if name == "" {
		name = fmt.Sprintf("guest-%d", h.guests.Add(1))
	}
	_, _, isPty := s.Pty()

	c := &client{
		player: model.Player{
			ID:     crypto.Fingerprint(key),
			Name:   name,
			TeamID: model.NoTeam,
		},
		crlf:    isPty,
		w:       s,
		closeFn: func() error { return s.Exit(1) },
	}
	if !h.join(c) {
		_, _ = fmt.Fprintln(s, "This key is already connected.")
		_ = s.Exit(1)
		return
	}
	defer h.leave(c)

	c.send(fmt.Sprintf("Welcome %s. Start a line with \"%s \" to use the admin channel.", name, AdminPrefix))
	readLines(bufio.NewReader(s), isPty, c, func(line string) { h.chat(c, line) })
}

func (c *client) send(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	text = stripControl(text)
	eol := "\n"
	if c.crlf {
		eol = "\r\n"
	}
	if _, err := io.WriteString(c.w, text+eol); err != nil {
		c.closed = true
	}
}

// echo writes raw input back to a PTY session.
func (c *client) echo(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		_, _ = io.WriteString(c.w, s)
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed && c.closeFn == nil {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.closeFn
	c.closeFn = nil
	c.mu.Unlock()
	if fn != nil {
		_ = fn()
	}
}
