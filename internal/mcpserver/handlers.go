package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"openwork/internal/logging"
	"openwork/internal/metrics"
)

// defaultReadLimit bounds read_file when no limit is given.
const defaultReadLimit = 2000

// workspaceFor resolves the workspace of the calling thread.
func (s *MCPService) workspaceFor(ctx context.Context, req mcp.CallToolRequest) (string, Files, *mcp.CallToolResult) {
	threadID := ThreadFrom(ctx)
	if threadID == "" {
		threadID = req.GetString("thread_id", "")
	}
	if threadID == "" {
		return "", nil, mcp.NewToolResultError("no thread: send the " + ThreadHeader + " header or a thread_id argument")
	}
	files, err := s.resolve(ctx, threadID)
	if err != nil {
		return threadID, nil, mcp.NewToolResultError(fmt.Sprintf("workspace unavailable: %v", err))
	}
	return threadID, files, nil
}

// begin checks availability and resolves the workspace. A non-nil result
// ends the call.
func (s *MCPService) begin(ctx context.Context, tool string, req mcp.CallToolRequest) (string, Files, *mcp.CallToolResult) {
	if !s.availability.IsEnabled(tool) {
		metrics.RecordToolCall(tool, false)
		return "", nil, mcp.NewToolResultError(fmt.Sprintf("%s tool is disabled", tool))
	}
	threadID, files, res := s.workspaceFor(ctx, req)
	if res != nil {
		metrics.RecordToolCall(tool, false)
	}
	return threadID, files, res
}

// finish turns err into a tool error and records the call.
func finish(tool, threadID string, text string, err error) (*mcp.CallToolResult, error) {
	metrics.RecordToolCall(tool, err == nil)
	if err != nil {
		logging.Debug("tool call failed", logging.String("tool", tool), logging.Thread(threadID), logging.Err(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPService) handleLs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, files, res := s.begin(ctx, ToolLs, req)
	if res != nil {
		return res, nil
	}

	entries, err := files.List(ctx, req.GetString("path", "/"))
	if err != nil {
		return finish(ToolLs, threadID, "", err)
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir {
			sb.WriteString(e.Path + "/\n")
			continue
		}
		if e.Size != nil {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Path, *e.Size)
		} else {
			sb.WriteString(e.Path + "\n")
		}
	}
	if sb.Len() == 0 {
		return finish(ToolLs, threadID, "(empty directory)", nil)
	}
	return finish(ToolLs, threadID, sb.String(), nil)
}

func (s *MCPService) handleReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	threadID, files, res := s.begin(ctx, ToolReadFile, req)
	if res != nil {
		return res, nil
	}

	offset := req.GetInt("offset", 0)
	limit := req.GetInt("limit", defaultReadLimit)
	content, err := files.Read(ctx, filePath, offset, limit)
	return finish(ToolReadFile, threadID, content, err)
}

func (s *MCPService) handleWriteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}
	threadID, files, res := s.begin(ctx, ToolWriteFile, req)
	if res != nil {
		return res, nil
	}

	if err := files.Write(ctx, filePath, []byte(content)); err != nil {
		return finish(ToolWriteFile, threadID, "", err)
	}
	s.notify(threadID, filePath)
	return finish(ToolWriteFile, threadID, fmt.Sprintf("Wrote %d bytes to %s", len(content), filePath), nil)
}

func (s *MCPService) handleEditFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	oldText, err := req.RequireString("old_string")
	if err != nil {
		return mcp.NewToolResultError("old_string is required"), nil
	}
	newText, err := req.RequireString("new_string")
	if err != nil {
		return mcp.NewToolResultError("new_string is required"), nil
	}
	threadID, files, res := s.begin(ctx, ToolEditFile, req)
	if res != nil {
		return res, nil
	}

	n, err := files.Edit(ctx, filePath, oldText, newText, req.GetBool("replace_all", false))
	if err != nil {
		return finish(ToolEditFile, threadID, "", err)
	}
	s.notify(threadID, filePath)
	return finish(ToolEditFile, threadID, fmt.Sprintf("Replaced %d occurrence(s) in %s", n, filePath), nil)
}

func (s *MCPService) handleGrep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError("pattern is required"), nil
	}
	threadID, files, res := s.begin(ctx, ToolGrep, req)
	if res != nil {
		return res, nil
	}

	matches, err := files.Grep(ctx, pattern, req.GetString("path", "/"), req.GetString("glob", ""))
	if err != nil {
		return finish(ToolGrep, threadID, "", err)
	}
	if len(matches) == 0 {
		return finish(ToolGrep, threadID, "No matches found", nil)
	}
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}
	return finish(ToolGrep, threadID, sb.String(), nil)
}

func (s *MCPService) handleGlob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError("pattern is required"), nil
	}
	threadID, files, res := s.begin(ctx, ToolGlob, req)
	if res != nil {
		return res, nil
	}

	entries, err := files.Glob(ctx, pattern, req.GetString("path", "/"))
	if err != nil {
		return finish(ToolGlob, threadID, "", err)
	}
	if len(entries) == 0 {
		return finish(ToolGlob, threadID, "No files found", nil)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return finish(ToolGlob, threadID, strings.Join(paths, "\n"), nil)
}
