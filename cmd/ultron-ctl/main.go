package main

import (
	"fmt"
	"os"

	"ultron/internal/ipc"
)

func main() {
	cmd := "trigger"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	reply, err := ipc.Send(cmd)
	if err != nil {
		fmt.Println("ultron-daemon not running:", err)
		os.Exit(1)
	}
	if reply.Detail != "" {
		fmt.Println(reply.Detail)
	}
	if !reply.OK {
		os.Exit(1)
	}
}
