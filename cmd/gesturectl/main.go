package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// gesturectl - Command-line IPC Client
// ============================================================================
// Talks to touchgestured over its Unix socket.
//
// Usage:
//   gesturectl status
//   gesturectl gestures
//   gesturectl get touchscreen_gesture_camera
//   gesturectl set touchscreen_gesture_camera on
//   gesturectl haptic off
//   gesturectl inject 252
//
// Options:
//   -socket PATH    Unix domain socket path (default: /run/touchgestured.sock)
// ============================================================================

// Request payloads (duplicated from the daemon for a standalone binary)
type injectGesture struct {
	Scancode int `json:"scancode"`
}

type gestureKey struct {
	Key string `json:"key"`
}

type setGesture struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

type toggle struct {
	Enabled bool `json:"enabled"`
}

// RequestEnvelope wraps requests for JSON
type RequestEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func main() {
	socketPath := "/run/touchgestured.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}
	if env == nil {
		printUsage()
		return
	}

	data, err := send(socketPath, *env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(data) == 0 {
		fmt.Println("ok")
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(out.String())
}

// buildRequest maps command-line arguments to a request envelope. A nil
// envelope with no error means help was requested.
func buildRequest(args []string) (*RequestEnvelope, error) {
	withData := func(typ string, v any) (*RequestEnvelope, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &RequestEnvelope{Type: typ, Data: b}, nil
	}
	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("%s requires %s", args[0], usage)
		}
		return nil
	}

	switch args[0] {
	case "status":
		return &RequestEnvelope{Type: "status"}, nil

	case "gestures", "list":
		return &RequestEnvelope{Type: "gestures"}, nil

	case "components":
		return &RequestEnvelope{Type: "components"}, nil

	case "get":
		if err := need(2, "a gesture key"); err != nil {
			return nil, err
		}
		return withData("get_gesture", gestureKey{Key: args[1]})

	case "set":
		if err := need(3, "a gesture key and on|off"); err != nil {
			return nil, err
		}
		on, err := parseSwitch(args[2])
		if err != nil {
			return nil, err
		}
		return withData("set_gesture", setGesture{Key: args[1], Enabled: on})

	case "haptic", "proximity", "high-touch":
		if err := need(2, "on|off"); err != nil {
			return nil, err
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return nil, err
		}
		typ := map[string]string{
			"haptic":     "set_haptic",
			"proximity":  "set_proximity_on_wake",
			"high-touch": "set_high_touch",
		}[args[0]]
		return withData(typ, toggle{Enabled: on})

	case "inject":
		if err := need(2, "a scancode"); err != nil {
			return nil, err
		}
		code, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid scancode %q: %w", args[1], err)
		}
		return withData("inject_gesture", injectGesture{Scancode: code})

	case "help", "-h", "--help":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "enable":
		return true, nil
	case "off", "false", "0", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func send(socketPath string, env RequestEnvelope) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if response.Status != "ok" {
		return nil, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response.Data, nil
}

func printUsage() {
	fmt.Println("gesturectl - Control touchgestured via IPC")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  gesturectl [OPTIONS] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -socket PATH    Unix domain socket path (default: /run/touchgestured.sock)")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  status                  Show daemon state, settings and pending request")
	fmt.Println("  gestures, list          List the gesture catalog")
	fmt.Println("  components              List the settings component registry")
	fmt.Println("  get KEY                 Show one gesture switch")
	fmt.Println("  set KEY on|off          Enable or disable a gesture switch")
	fmt.Println("  haptic on|off           Haptic feedback on gestures")
	fmt.Println("  proximity on|off        Proximity check before acting")
	fmt.Println("  high-touch on|off       High touch sensitivity (glove mode)")
	fmt.Println("  inject SCANCODE         Simulate a gesture")
	fmt.Println("  help                    Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  gesturectl set touchscreen_gesture_flashlight on")
	fmt.Println("  gesturectl inject 253")
	fmt.Println("  gesturectl -socket /tmp/touchgestured.sock status")
}
