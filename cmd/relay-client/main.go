package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/client"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

func main() {
	id := flag.String("id", "", "client id to register with the relay")
	addr := flag.String("addr", "127.0.0.1:5000", "relay server address")
	interval := flag.Duration("heartbeat", 5*time.Second, "heartbeat emission interval")
	flag.Parse()

	loggerCallback := logger.Init()
	defer func() { _ = loggerCallback.Invoke(context.Background()) }()

	if *id == "" {
		fmt.Print("Enter your client ID: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		*id = strings.TrimSpace(line)
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "a client id is required")
		os.Exit(1)
	}

	agent, err := client.Dial(*addr, *id, *interval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to relay: %v\n", err)
		os.Exit(1)
	}
	defer agent.Close()
	fmt.Printf("Registered with relay as %q. Send with: <recipient> <message>, refresh with: /refresh\n", *id)

	go func() {
		for frame := range agent.Messages() {
			switch frame.Action {
			case protocol.ActionMessage:
				fmt.Printf("\n[New message] From %q: %s\n> ", frame.Sender, frame.Payload)
			case protocol.ActionError:
				fmt.Printf("\n[Relay error] %s\n> ", frame.Payload)
			}
		}
		fmt.Println("\nConnection to relay closed.")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/refresh" {
			// Re-registering refreshes the session and drains anything the
			// relay queued for this id in the meantime.
			if err := agent.Register(); err != nil {
				fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
				return
			}
			fmt.Print("Registration refreshed.\n> ")
			continue
		}
		recipient, payload, ok := strings.Cut(line, " ")
		if !ok || strings.TrimSpace(payload) == "" {
			fmt.Print("Usage: <recipient> <message>\n> ")
			continue
		}
		if err := agent.Send(recipient, strings.TrimSpace(payload)); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			return
		}
		fmt.Print("> ")
	}
}
