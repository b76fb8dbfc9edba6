package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// feedMessage is one frame of the touchgestured gesture feed.
type feedMessage struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

type gestureData struct {
	RequestID string `json:"request_id"`
	Scancode  int    `json:"scancode"`
	Gesture   string `json:"gesture"`
	Action    string `json:"action"`
	Gated     bool   `json:"gated"`
	Reason    string `json:"reason"`
}

type torchData struct {
	Camera  string `json:"camera"`
	Enabled bool   `json:"enabled"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws/gestures", "touchgestured feed URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
		once  = flag.Bool("state", false, "Print the initial state and exit")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; allow for a missed one.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
			} else {
				handleFeedMessage(message)
			}
			if *once {
				return
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleFeedMessage prints one feed frame in a compact form.
func handleFeedMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	ts := msg.Ts.Local().Format("15:04:05.000")

	switch msg.Type {
	case "state_init":
		var pretty any
		if err := json.Unmarshal(msg.Data, &pretty); err != nil {
			fmt.Printf("%s [STATE] %s\n", ts, string(msg.Data))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("%s [STATE]\n%s\n", ts, string(out))

	case "gesture_received", "action_performed", "gesture_dropped":
		var g gestureData
		if err := json.Unmarshal(msg.Data, &g); err != nil {
			fmt.Printf("%s [%s] %s\n", ts, msg.Type, string(msg.Data))
			return
		}
		gated := ""
		if g.Gated {
			gated = " (proximity gated)"
		}
		switch msg.Type {
		case "gesture_received":
			fmt.Printf("%s [GESTURE] %s scancode=%d%s\n", ts, g.Gesture, g.Scancode, gated)
		case "action_performed":
			fmt.Printf("%s [ACTION] %s from %s\n", ts, g.Action, g.Gesture)
		default:
			fmt.Printf("%s [DROPPED] %s reason=%s\n", ts, g.Gesture, g.Reason)
		}

	case "camera_gesture":
		fmt.Printf("%s [CAMERA] launch signal sent\n", ts)

	case "torch_changed":
		var t torchData
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			fmt.Printf("%s [TORCH] %s\n", ts, string(msg.Data))
			return
		}
		state := "OFF"
		if t.Enabled {
			state = "ON"
		}
		fmt.Printf("%s [TORCH] %s %s\n", ts, t.Camera, state)

	default:
		fmt.Printf("%s [%s] %s\n", ts, msg.Type, string(msg.Data))
	}
}
