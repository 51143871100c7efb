package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cexll/testpilot/internal/config"
	"github.com/cexll/testpilot/internal/testfinder"
	"github.com/cexll/testpilot/internal/vcs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func newServer(h *toolHandler) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "testpilot",
		Version: "v1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_changes",
		Description: "List files modified in the working tree and untracked files",
	}, h.HandleListChanges)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "show_diff",
		Description: "Show the diff of one file without git headers, with added/removed line counts",
	}, h.HandleShowDiff)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_test_pairs",
		Description: "Pair each changed file with its unit test file",
	}, h.HandleFindTestPairs)

	return server
}

func main() {
	dir := os.Getenv("TESTPILOT_REPO")
	if dir == "" {
		dir = "."
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := vcs.Open(ctx, dir)
	if err != nil {
		log.Fatalf("[MCP testpilot] %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MCP testpilot] Failed to load configuration: %v", err)
	}

	log.Println("[MCP testpilot] Starting testpilot MCP server v1.0.0")
	log.Printf("[MCP testpilot] Repository: %s", repo.Root())

	server := newServer(&toolHandler{
		repo: repo,
		conv: testfinder.Convention{Dir: cfg.TestDir, Suffix: cfg.TestSuffix, Ext: cfg.TestExt},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP testpilot] Received shutdown signal")
		cancel()
	}()

	log.Println("[MCP testpilot] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP testpilot] Server error: %v", err)
	}
	log.Println("[MCP testpilot] Server stopped gracefully")
}
