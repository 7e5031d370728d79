package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

const SocketPath = "/tmp/ultron.sock"

// ControlMessage is one verb sent over the control socket: trigger, status
// or shutdown.
type ControlMessage struct {
	Cmd string `json:"cmd"`
}

// Reply carries the daemon's answer back to ultron-ctl.
type Reply struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Handler answers one control message.
type Handler func(ControlMessage) Reply

// StartServer listens on the unix socket and dispatches each connection to
// handler. Returns a stop function that closes the listener.
func StartServer(handler Handler) (func(), error) {
	os.Remove(SocketPath)

	ln, err := net.Listen("unix", SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleConn(conn, handler)
		}
	}()

	return func() {
		ln.Close()
		os.Remove(SocketPath)
	}, nil
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}
	reply := handler(msg)
	json.NewEncoder(conn).Encode(reply)
}

// Send delivers one verb to a running daemon and returns its reply.
func Send(cmd string) (Reply, error) {
	conn, err := net.Dial("unix", SocketPath)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, err
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
