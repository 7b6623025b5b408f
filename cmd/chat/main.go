// Command chat is a terminal client for the bridge's websocket protocol.
// Lines are sent as text turns; /start, /stop, /reset, /interrupt and /ping
// send control actions.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/room4-2/tripbridge/logging"
	"github.com/room4-2/tripbridge/messages"
)

type incoming struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	IsPartial bool   `json:"isPartial"`
	Data      any    `json:"data"`
}

func main() {
	_ = godotenv.Load()
	log := logging.Init(os.Getenv("LOG_LEVEL"), "text")

	url := os.Getenv("BRIDGE_URL")
	if url == "" {
		url = "ws://localhost:8080/ws"
	}
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Error("failed to connect", "url", url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Info("connected", "url", url)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Warn("connection closed", "error", err)
				}
				return
			}
			var msg incoming
			if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
				log.Warn("undecodable message", "error", err)
				continue
			}
			render(log, &msg)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				<-done
				return
			}
			out, skip := toClientMessage(line)
			if skip {
				continue
			}
			data, err := sonic.ConfigStd.Marshal(out)
			if err != nil {
				log.Error("encode", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("send failed", "error", err)
				return
			}
		}
	}
}

func toClientMessage(line string) (*messages.ClientMessage, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, true
	}
	if action, ok := strings.CutPrefix(line, "/"); ok {
		return &messages.ClientMessage{Type: messages.ClientControl, Action: action}, false
	}
	return &messages.ClientMessage{Type: messages.ClientText, Data: line}, false
}

func render(log *slog.Logger, msg *incoming) {
	data, _ := msg.Data.(map[string]any)
	switch msg.Type {
	case messages.TypeTranscript:
		if msg.IsPartial {
			return
		}
		fmt.Printf("%s> %s\n", data["role"], msg.Text)
	case messages.TypeAudio:
		if s, ok := msg.Data.(string); ok {
			log.Debug("audio frame", "base64_len", len(s))
		}
	case messages.TypeStatus:
		if text, _ := data["message"].(string); text != "" {
			fmt.Printf("[%s] %s\n", data["status"], text)
		} else {
			fmt.Printf("[%s]\n", data["status"])
		}
	case messages.TypeToolCall:
		fmt.Printf("[tool] %v %v\n", data["name"], data["args"])
	case messages.TypeSources:
		fmt.Printf("[sources] %v\n", data["tool"])
	case messages.TypeItinerary:
		pretty, err := sonic.ConfigStd.MarshalIndent(data["full_itinerary"], "", "  ")
		if err != nil {
			return
		}
		fmt.Printf("[itinerary]\n%s\n", pretty)
	case messages.TypeError:
		fmt.Printf("[error %v] %v\n", data["code"], data["message"])
	default:
		log.Debug("unhandled message", "type", msg.Type)
	}
}
