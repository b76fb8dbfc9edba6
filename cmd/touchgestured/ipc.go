package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "request_name", "data": {...}}
//   - Server replies: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
// ============================================================================

// IPCResponse is the reply sent for every request line.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // set when status == "error"
	Data   any    `json:"data,omitempty"`
}

// RequestHandler executes decoded requests.
type RequestHandler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

const ipcRequestTimeout = 2 * time.Second

// runIPCServer serves requests on socketPath until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, handler RequestHandler, validator *RequestValidator, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Settings changes are privileged; only the owner and group may connect.
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(ctx, conn, handler, validator, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(ctx context.Context, conn net.Conn, handler RequestHandler, validator *RequestValidator, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	reply := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		if validator != nil {
			if err := validator.Validate(line); err != nil {
				reply(IPCResponse{Status: "error", Error: err.Error()})
				continue
			}
		}

		req, err := UnmarshalRequest(line)
		if err != nil {
			reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)})
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, ipcRequestTimeout)
		data, err := handler.Handle(reqCtx, req)
		cancel()
		if err != nil {
			logger.Debug("IPC request failed", "request", fmt.Sprintf("%T", req), "error", err)
			reply(IPCResponse{Status: "error", Error: err.Error()})
			continue
		}
		reply(IPCResponse{Status: "ok", Data: data})
	}

	logger.Debug("IPC connection closed")
}
