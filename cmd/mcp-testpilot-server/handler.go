package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/testpilot/internal/diffview"
	"github.com/cexll/testpilot/internal/testfinder"
	"github.com/cexll/testpilot/internal/vcs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListChangesParams takes no input.
type ListChangesParams struct{}

// ShowDiffParams selects the file whose diff is returned.
type ShowDiffParams struct {
	Path     string `json:"path" jsonschema:"Repository-relative path of the file"`
	Revision string `json:"revision,omitempty" jsonschema:"Revision to diff against; the index when empty"`
}

// FindTestPairsParams takes no input.
type FindTestPairsParams struct{}

// toolHandler answers tool calls against one repository.
type toolHandler struct {
	repo *vcs.Repo
	conv testfinder.Convention
}

type changesResult struct {
	Modified  []string `json:"modified"`
	Untracked []string `json:"untracked"`
}

type pairResult struct {
	Source string `json:"source"`
	Test   string `json:"test"`
}

// HandleListChanges lists modified and untracked files.
func (h *toolHandler) HandleListChanges(ctx context.Context, req *mcp.CallToolRequest, params ListChangesParams) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP testpilot] Received list_changes request")

	modified, err := h.repo.ChangedFiles(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	untracked, err := h.repo.UntrackedFiles(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}

	return jsonResult(changesResult{Modified: nonNil(modified), Untracked: nonNil(untracked)})
}

// HandleShowDiff returns a file's diff without git headers, followed by its stats.
func (h *toolHandler) HandleShowDiff(ctx context.Context, req *mcp.CallToolRequest, params ShowDiffParams) (*mcp.CallToolResult, any, error) {
	if params.Path == "" {
		return nil, nil, fmt.Errorf("path parameter is required")
	}
	log.Printf("[MCP testpilot] Received show_diff request for %s", params.Path)

	raw, err := h.repo.FileDiff(ctx, params.Revision, params.Path)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if strings.TrimSpace(raw) == "" {
		return textResult(fmt.Sprintf("No changes in %s", params.Path)), nil, nil
	}

	var b strings.Builder
	b.WriteString(diffview.StripHeaders(raw))
	if stats, err := diffview.Summarize(raw); err == nil {
		for _, s := range stats {
			b.WriteString("\n")
			b.WriteString(s.String())
		}
	}
	return textResult(b.String()), nil, nil
}

// HandleFindTestPairs pairs every changed file with its test file.
func (h *toolHandler) HandleFindTestPairs(ctx context.Context, req *mcp.CallToolRequest, params FindTestPairsParams) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP testpilot] Received find_test_pairs request")

	changes, err := h.repo.Changes(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	pairs, err := testfinder.Pairs(h.repo.Root(), changes, h.conv)
	if err != nil {
		return errorResult(err), nil, nil
	}

	out := make([]pairResult, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pairResult{
			Source: h.repo.Rel(p.Source),
			Test:   h.repo.Rel(p.Test),
		})
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	log.Printf("[MCP testpilot] Tool call failed: %v", err)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
