package tools

// RegisterBuiltins registers the built-in workspace tools. Must run
// before the registry is sealed.
func RegisterBuiltins() {
	Register(ToolListDir, func(ctx Context) (Tool, error) {
		return NewListDirTool(ctx.WorkDir), nil
	})
	Register(ToolReadFile, func(ctx Context) (Tool, error) {
		return NewReadFileTool(ctx.WorkDir, ctx.MaxReadBytes), nil
	})
	Register(ToolWriteFile, func(ctx Context) (Tool, error) {
		return NewWriteFileTool(ctx.WorkDir, ctx.ReadOnly), nil
	})
	Register(ToolShell, func(ctx Context) (Tool, error) {
		return NewShellTool(ctx.WorkDir, ctx.ReadOnly), nil
	})
}
