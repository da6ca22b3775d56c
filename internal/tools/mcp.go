package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool pairs an MCP tool definition with the adapter that serves it.
type Tool struct {
	Definition mcp.Tool

	// ReferenceArg names the argument that identifies the subject of a call
	// (ticket number, item name, ...). It is recorded on audit events.
	ReferenceArg string

	Handle func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns the five ServiceNow tools in registration order.
func (s *Toolset) Tools() []Tool {
	return []Tool{
		{
			Definition: mcp.NewTool("check_ticket_status",
				mcp.WithDescription("Checks the status of an Incident (INC), Request (REQ), or Item (RITM). Returns the number, short description and state."),
				mcp.WithString("ticket_number",
					mcp.Required(),
					mcp.Description("Ticket number, e.g. INC0010001, REQ0010001 or RITM0010001"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			ReferenceArg: "ticket_number",
			Handle:       s.stringTool(s.CheckTicketStatus, "ticket_number"),
		},
		{
			Definition: mcp.NewTool("search_knowledge_base",
				mcp.WithDescription("Searches published knowledge base articles by short description and returns a short excerpt of each match."),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Text to look for in article titles (e.g. 'VPN')"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			ReferenceArg: "query",
			Handle:       s.stringTool(s.SearchKnowledgeBase, "query"),
		},
		{
			Definition: mcp.NewTool("get_catalog_variables",
				mcp.WithDescription("Lists the form variables of a service catalog item. Call this before submit_catalog_request to learn the required keys."),
				mcp.WithString("item_name",
					mcp.Required(),
					mcp.Description("Exact catalog item name (e.g. 'Standard Laptop')"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			ReferenceArg: "item_name",
			Handle:       s.stringTool(s.GetCatalogVariables, "item_name"),
		},
		{
			Definition: mcp.NewTool("get_user_id",
				mcp.WithDescription("Finds active users by partial name or email and returns their user IDs and sys_ids."),
				mcp.WithString("name_or_email",
					mcp.Required(),
					mcp.Description("Part of a user's name or email address"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			ReferenceArg: "name_or_email",
			Handle:       s.stringTool(s.GetUserID, "name_or_email"),
		},
		{
			Definition: mcp.NewTool("submit_catalog_request",
				mcp.WithDescription("Orders one unit of a service catalog item with the given variables and returns the new request number."),
				mcp.WithString("item_name",
					mcp.Required(),
					mcp.Description("Exact catalog item name"),
				),
				mcp.WithString("variables_json",
					mcp.Required(),
					mcp.Description(`JSON object of variable values keyed by variable name, e.g. {"requested_for": "<sys_id>"}`),
				),
				mcp.WithReadOnlyHintAnnotation(false),
				mcp.WithDestructiveHintAnnotation(false),
			),
			ReferenceArg: "item_name",
			Handle:       s.handleSubmitCatalogRequest,
		},
	}
}

func (s *Toolset) stringTool(fn func(context.Context, string) (string, error), arg string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, errResult := stringArg(req, arg)
		if errResult != nil {
			return errResult, nil
		}
		out, err := fn(ctx, v)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(out), nil
	}
}

func (s *Toolset) handleSubmitCatalogRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	item, errResult := stringArg(req, "item_name")
	if errResult != nil {
		return errResult, nil
	}
	// Blank or malformed JSON is reported by SubmitCatalogRequest itself.
	vars, errResult := stringArg(req, "variables_json")
	if errResult != nil {
		return errResult, nil
	}
	out, err := s.SubmitCatalogRequest(ctx, item, vars)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(out), nil
}

// stringArg extracts a required string argument. Empty values are passed
// through unchanged.
func stringArg(req mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	v, ok := req.GetArguments()[name].(string)
	if !ok {
		return "", mcp.NewToolResultError(fmt.Sprintf("%s parameter is required and must be a string", name))
	}
	return v, nil
}
