package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mcpharvest/idgen"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

var newRequestID = idgen.Prefixed("mcp-", idgen.Default)

// MCPDecoder turns raw tool arguments into an endpoint request.
type MCPDecoder func(*mcp.CallToolRequest) (*MCPDecodeResult, error)

// RegisterMCPTool registers an Endpoint as an MCP tool on srv. Each call
// gets transport "mcp" and a fresh request id. Decode and endpoint failures
// come back as tool errors carrying the message, not as protocol errors.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode MCPDecoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), newRequestID())
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal %s result: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// DecodeArgs returns a decoder that unmarshals tool arguments into a fresh
// *T. Empty arguments decode to the zero value.
func DecodeArgs[T any]() MCPDecoder {
	return func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var p T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &MCPDecodeResult{Request: &p}, nil
	}
}

// DecodeTrigger is DecodeArgs for tools that start pipeline work: the call
// context also carries trigger, recorded in the run history.
func DecodeTrigger[T any](trigger string) MCPDecoder {
	decode := DecodeArgs[T]()
	return func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		res, err := decode(req)
		if err != nil {
			return nil, err
		}
		res.EnrichCtx = func(ctx context.Context) context.Context {
			return WithTrigger(ctx, trigger)
		}
		return res, nil
	}
}
