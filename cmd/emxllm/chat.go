package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/coreseekdev/emx-llm/internal/client"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// runChat resolves a model reference via the client factory and performs
// one unary or streaming call, printing the response to stdout. This
// exercises the client core outside of the gateway process, grounded on
// `bin/emx-llm/chat.rs`'s run()/run_async() — the txtar stdin format and
// dry-run/token-stats bookkeeping it also implements are out of scope per
// spec §1 (archive format, CLI terminal UX).
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	modelRef := fs.String("model", "", "model reference, e.g. openai.gpt-x or a short name")
	system := fs.String("system", "", "optional system prompt")
	stream := fs.Bool("stream", false, "stream the response to stdout as it arrives")
	localPath := fs.String("config", "config.toml", "path to the local config file")
	fs.Parse(args)

	if *modelRef == "" {
		log.Fatalf("chat: -model is required")
	}

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		log.Fatalf("chat: a query is required")
	}

	tree := openConfig(*localPath)

	ref, err := resolver.ParseReference(*modelRef)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	rm, err := resolver.Resolve(tree, ref)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}

	c, err := client.New(rm)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}

	var messages []message.Message
	if *system != "" {
		messages = append(messages, message.System(*system))
	}
	messages = append(messages, message.User(query))

	ctx := context.Background()

	if *stream {
		events, err := c.ChatStream(ctx, messages, rm.UpstreamModelID)
		if err != nil {
			log.Fatalf("chat: %v", err)
		}
		for ev := range events {
			fmt.Print(ev.Delta)
			if ev.Done && ev.Usage != nil {
				fmt.Printf("\n\n[usage] prompt=%d completion=%d total=%d\n",
					ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.TotalTokens)
			}
		}
		return
	}

	text, usage, err := c.Chat(ctx, messages, rm.UpstreamModelID)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	fmt.Println(text)
	fmt.Printf("[usage] prompt=%d completion=%d total=%d\n", usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}
