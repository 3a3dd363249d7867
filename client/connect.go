package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/spf13/cobra"
)

type gatewayConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// dialGateway opens an authenticated websocket and registers the user.
func dialGateway(ctx context.Context, c *apiClient) (*gatewayConn, error) {
	u, err := url.Parse(c.gatewayAddr)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	header.Add("Authorization", "Bearer "+c.token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	g := &gatewayConn{ws: ws}
	if err := g.emit(model.EventRegister, model.RegisterPayload{UserID: c.userID}); err != nil {
		ws.Close()
		return nil, err
	}
	return g, nil
}

func (g *gatewayConn) emit(event model.EventName, payload any) error {
	frame, err := model.Encode(event, payload)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ws.WriteMessage(websocket.TextMessage, frame)
}

func (g *gatewayConn) sendMessage(from, to string, msg *model.Message) error {
	return g.emit(model.EventSend, model.SendPayload{
		To:   to,
		From: from,
		Msg:  msg.Body.Text,
		ID:   strconv.FormatInt(msg.ID, 10),
	})
}

func (g *gatewayConn) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	g.ws.Close()
}

func newConnectCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive chat with another user",
		Long: `Open an interactive chat with another user.

Lines are sent as messages. Commands:
  /typing   show a typing indicator to the peer
  /seen     mark the peer's messages as read
  /online   list online users
  /clear    ask the peer to clear the conversation
  /accept   accept the peer's clear request
  /reject   reject the peer's clear request
  /quit     leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dialGateway(cmd.Context(), a.client)
			if err != nil {
				return err
			}
			defer conn.close()
			return chat(cmd.Context(), a.client, conn, to, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "peer user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func chat(ctx context.Context, client *apiClient, conn *gatewayConn, peer string, in io.Reader, out io.Writer) error {
	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		_, _ = fmt.Fprintf(out, format, args...)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ws.ReadMessage()
			if err != nil {
				return
			}
			if line := render(data, peer, client.userID); line != "" {
				printf("\r%s\n> ", line)
			}
			if env, err := model.Decode(data); err == nil && env.Event == model.EventClearChatAccepted {
				n, err := client.clearChat(ctx, peer)
				if err != nil {
					printf("\rclear chat failed: %v\n> ", err)
					continue
				}
				printf("\rcleared %d messages\n> ", n)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	printf("> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return fmt.Errorf("gateway closed the connection")
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, client, conn, peer, strings.TrimSpace(text)); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				printf("error: %v\n", err)
			}
			printf("> ")
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, client *apiClient, conn *gatewayConn, peer, text string) error {
	self := client.userID
	switch text {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/typing":
		return conn.emit(model.EventTyping, model.PeerPayload{To: peer, From: self})
	case "/seen":
		return conn.emit(model.EventSeen, model.PeerPayload{To: peer, From: self})
	case "/online":
		return conn.emit(model.EventGetOnlineUsers, nil)
	case "/clear":
		return conn.emit(model.EventClearChatRequest, model.PeerPayload{To: peer, From: self})
	case "/accept":
		return conn.emit(model.EventClearChatAccept, model.PeerPayload{To: peer, From: self})
	case "/reject":
		return conn.emit(model.EventClearChatReject, model.PeerPayload{To: peer, From: self})
	}

	msg, err := client.addMessage(ctx, peer, text)
	if err != nil {
		return err
	}
	if err := conn.emit(model.EventStopTyping, model.PeerPayload{To: peer, From: self}); err != nil {
		return err
	}
	return conn.sendMessage(self, peer, msg)
}

// render turns an inbound frame into a line of output, or "" to hide it.
func render(frame []byte, peer, self string) string {
	env, err := model.Decode(frame)
	if err != nil {
		return ""
	}
	switch env.Event {
	case model.EventReceive:
		var p model.ReceivePayload
		if json.Unmarshal(env.Data, &p) != nil {
			return ""
		}
		name := p.SenderName
		if name == "" {
			name = p.From
		}
		return fmt.Sprintf("%s: %s", name, p.Msg)
	case model.EventTyping:
		return fmt.Sprintf("%s is typing...", peer)
	case model.EventSeen:
		return fmt.Sprintf("%s has seen your messages", peer)
	case model.EventEdited:
		var p model.EditedPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return ""
		}
		return fmt.Sprintf("message %s edited: %s", p.MsgID, p.Text)
	case model.EventDeleted:
		var p model.DeletedPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return ""
		}
		return fmt.Sprintf("message %s deleted", p.MsgID)
	case model.EventClearChatRequest:
		return fmt.Sprintf("%s asks to clear the chat (/accept or /reject)", peer)
	case model.EventClearChatAccepted:
		return "clear chat accepted"
	case model.EventClearChatRejected:
		return "clear chat rejected"
	case model.EventUserOnline, model.EventUserOffline:
		var p model.PresencePayload
		if json.Unmarshal(env.Data, &p) != nil || p.UserID == self {
			return ""
		}
		state := "online"
		if env.Event == model.EventUserOffline {
			state = "offline"
		}
		return fmt.Sprintf("%s is %s", p.UserID, state)
	case model.EventOnlineUsers:
		var p model.OnlineUsersPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return ""
		}
		return "online: " + strings.Join(p.Users, ", ")
	}
	return ""
}
