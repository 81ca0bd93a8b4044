package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolLs        = "ls"
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolEditFile  = "edit_file"
	ToolGrep      = "grep"
	ToolGlob      = "glob"
)

// ToolNames lists every workspace tool.
var ToolNames = []string{ToolLs, ToolReadFile, ToolWriteFile, ToolEditFile, ToolGrep, ToolGlob}

func threadOption() mcp.ToolOption {
	return mcp.WithString("thread_id",
		mcp.Description("Thread whose workspace to use. Only needed when the client does not send the "+ThreadHeader+" header"),
	)
}

// CreateLsTool creates the ls tool definition
func CreateLsTool() mcp.Tool {
	return mcp.NewTool(ToolLs,
		mcp.WithDescription("List the direct children of a workspace directory. Directories end with a slash."),
		mcp.WithString("path",
			mcp.Description("Absolute virtual path, e.g. / or /src (default: /)"),
		),
		threadOption(),
	)
}

// CreateReadFileTool creates the read_file tool definition
func CreateReadFileTool() mcp.Tool {
	return mcp.NewTool(ToolReadFile,
		mcp.WithDescription("Read a workspace file. Lines are returned numbered as `N|text`, starting at 1."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute virtual path of the file"),
		),
		mcp.WithNumber("offset",
			mcp.Description("0-based line to start at (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of lines (default: 2000)"),
		),
		threadOption(),
	)
}

// CreateWriteFileTool creates the write_file tool definition
func CreateWriteFileTool() mcp.Tool {
	return mcp.NewTool(ToolWriteFile,
		mcp.WithDescription("Create or overwrite a workspace file."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute virtual path of the file"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full file content"),
		),
		threadOption(),
	)
}

// CreateEditFileTool creates the edit_file tool definition
func CreateEditFileTool() mcp.Tool {
	return mcp.NewTool(ToolEditFile,
		mcp.WithDescription("Replace text in a workspace file. old_string must occur exactly once unless replace_all is set."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute virtual path of the file"),
		),
		mcp.WithString("old_string",
			mcp.Required(),
			mcp.Description("Text to replace"),
		),
		mcp.WithString("new_string",
			mcp.Required(),
			mcp.Description("Replacement text"),
		),
		mcp.WithBoolean("replace_all",
			mcp.Description("Replace every occurrence (default: false)"),
		),
		threadOption(),
	)
}

// CreateGrepTool creates the grep tool definition
func CreateGrepTool() mcp.Tool {
	return mcp.NewTool(ToolGrep,
		mcp.WithDescription("Search workspace files for lines matching a regular expression."),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Regular expression (RE2 syntax)"),
		),
		mcp.WithString("path",
			mcp.Description("Directory to search under (default: /)"),
		),
		mcp.WithString("glob",
			mcp.Description("Only search files matching this glob, e.g. *.go"),
		),
		threadOption(),
	)
}

// CreateGlobTool creates the glob tool definition
func CreateGlobTool() mcp.Tool {
	return mcp.NewTool(ToolGlob,
		mcp.WithDescription("Find workspace files by glob pattern. ** matches any number of directories."),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Glob pattern, e.g. **/*.md"),
		),
		mcp.WithString("path",
			mcp.Description("Directory to search under (default: /)"),
		),
		threadOption(),
	)
}
