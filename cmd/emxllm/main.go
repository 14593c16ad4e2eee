// Command emxllm is the entry point for the gateway and for the
// standalone client core (the `chat`/`models`/`providers`/`config`
// subcommands), continuing the teacher's cmd/llmrouter/main.go pattern
// generalized to the subcommand surface described in SPEC_FULL.md §3.
// Flag parsing uses the stdlib `flag` package only — a CLI framework is
// explicitly out of scope per spec §1.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/gateway"
	"github.com/coreseekdev/emx-llm/internal/metrics"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

func main() {
	if len(os.Args) < 2 {
		runServe(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "models":
		runModels(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "config":
		runConfigRender(os.Args[2:])
	default:
		runServe(os.Args[1:])
	}
}

func openConfig(localPath string) config.Tree {
	tree, err := config.Load(config.LoadOptions{LocalConfigPath: localPath})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return tree
}

// runServe starts the gateway HTTP server, per spec §4.8.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address")
	localPath := fs.String("config", "config.toml", "path to the local config file")
	fs.Parse(args)

	tree := openConfig(*localPath)

	m := metrics.New()
	srv := gateway.New(tree, m)

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than any fixed deadline
	}

	go func() {
		log.Printf("emxllm gateway listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}

// runModels prints every configured model, mirroring the original's
// `bin/emx-llm/env.rs`-style listing commands per SPEC_FULL.md §3.
func runModels(args []string) {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	localPath := fs.String("config", "config.toml", "path to the local config file")
	fs.Parse(args)

	tree := openConfig(*localPath)
	for _, m := range resolver.ListModels(tree) {
		fmt.Printf("%s\t%s\t%s\n", m.Path, m.Model.Kind, m.Model.UpstreamModelID)
	}
}

func runProviders(args []string) {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	localPath := fs.String("config", "config.toml", "path to the local config file")
	fs.Parse(args)

	tree := openConfig(*localPath)
	for _, p := range resolver.ListProviders(tree) {
		fmt.Printf("%s\t%s\n", p.Name, p.Kind)
	}
}

// runConfigRender prints the loaded configuration tree with credentials
// redacted, per spec §4.1's debug-rendering rule.
func runConfigRender(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	localPath := fs.String("config", "config.toml", "path to the local config file")
	fs.Parse(args)

	tree := openConfig(*localPath)
	fmt.Print(config.Render(tree))
}
