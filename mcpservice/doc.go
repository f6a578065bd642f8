// Package mcpservice holds the command layer of the gateway: a Registry of
// declaratively validated commands and the Dispatcher that executes them.
//
// Commands declare their parameters as data rather than Go types, so every
// constraint is visible to both the validator and the tools/list schema:
//
//	reg := mcpservice.MustRegistry(mcpservice.Command{
//	    Name:        "getPost",
//	    Description: "Fetch a single post by id",
//	    Params: []mcpservice.Param{
//	        mcpservice.Integer("id", mcpservice.Required(), mcpservice.Minimum(1)),
//	        mcpservice.Enum("context", []string{"view", "edit"}, mcpservice.Default("view")),
//	    },
//	    Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
//	        return client.GetPost(ctx, args.Int("id"))
//	    },
//	})
//	d := mcpservice.NewDispatcher(reg, mcpservice.WithCallTimeout(10*time.Second))
//	res := d.Invoke(ctx, "getPost", json.RawMessage(`{"id":42}`))
//
// Invoke always returns a CallToolResult. Validation failures, backend errors
// and timeouts set IsError and carry a single human-readable message; the
// handler is never called with arguments that failed validation.
package mcpservice
