package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eldtechnologies/omnirouter/internal/models"
	"github.com/eldtechnologies/omnirouter/internal/store"
)

func main() {
	redisURL := flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	stream := flag.String("stream", envOr("INBOUND_STREAM", "omni.messages"), "Inbound stream")
	outbox := flag.String("outbox-stream", envOr("OUTBOUND_STREAM", "omni.outbox"), "Outbound stream")
	bodyFile := flag.String("body", "", "File containing message JSON (or use stdin)")
	channel := flag.String("channel", "", "Build the message from flags: channel")
	from := flag.String("from", "", "Sender contact id (with -channel)")
	to := flag.String("to", "agent:bot", "Recipient contact id (with -channel)")
	text := flag.String("text", "", "Message text (with -channel)")
	conversation := flag.String("conversation", "", "Conversation id (with -channel)")
	tail := flag.Int64("outbox", 0, "Print the newest N outbound entries and exit")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rs, err := store.NewRedisStore(ctx, *redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer rs.Close()

	if *tail > 0 {
		entries, err := rs.Latest(ctx, *outbox, *tail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reading %s failed: %v\n", *outbox, err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s %v\n", e.ID, e.Values[store.PayloadField])
		}
		return
	}

	var input any
	if *channel != "" {
		if *from == "" {
			fmt.Fprintln(os.Stderr, "Usage: omnisend -channel <channel> -from <contact-id> [-to <contact-id>] [-text <text>]")
			os.Exit(1)
		}
		msg := map[string]any{
			"channel": *channel,
			"from":    map[string]any{"id": *from},
			"to":      map[string]any{"id": *to},
			"text":    *text,
		}
		if *conversation != "" {
			msg["conversationId"] = *conversation
		}
		input = msg
	} else {
		var body []byte
		if *bodyFile != "" {
			body, err = os.ReadFile(*bodyFile)
		} else {
			body, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
			os.Exit(1)
		}
		input = body
	}

	env, err := models.CoerceInbound(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid message: %v\n", err)
		os.Exit(1)
	}

	payload, err := json.Marshal(env.Message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encoding failed: %v\n", err)
		os.Exit(1)
	}

	entryID, err := rs.Append(ctx, *stream, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Append to %s failed: %v\n", *stream, err)
		os.Exit(1)
	}

	fmt.Printf("Entry: %s\n", entryID)
	fmt.Printf("Message: %s\n", env.Message.ID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
