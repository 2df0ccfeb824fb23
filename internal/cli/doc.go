// Package cli implements the client side of the virtmcp command line.
//
// It connects to a running virtmcp server over streamable HTTP or SSE, calls
// portmanteau tools and renders the returned envelopes for a terminal:
//
//	exec, err := cli.NewToolExecutor(cli.ExecutorOptions{
//	    Endpoint: "http://localhost:8090/mcp",
//	    Format:   cli.OutputFormatTable,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := exec.Connect(ctx); err != nil {
//	    return err
//	}
//	defer exec.Close()
//	return exec.Execute(ctx, "vm_management", map[string]interface{}{"action": "list"})
//
// Failed envelopes are returned as *ToolError so callers can map the error
// kind to an exit code.
package cli
