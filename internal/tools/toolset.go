// Package tools implements the ServiceNow operations exposed to MCP hosts.
//
// Each operation is a straight line: build a query, call the ServiceNow
// client one to three times, extract a few fields, and format a short
// human-readable string. Operations are independent and hold no state
// between calls.
//
// # Error Policy
//
//   - Not found (empty result or HTTP 404): a plain message, never an error.
//   - Malformed variables_json: a plain message, no network call.
//   - Any other failure: returned as an error, except for the order
//     submission step of submit_catalog_request, which is rendered as
//     "FAILED: <error>".
package tools

import (
	"log/slog"
	"strings"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
)

// ServiceNow tables addressed by the tools.
const (
	TableIncident        = "incident"
	TableRequest         = "sc_request"
	TableRequestedItem   = "sc_req_item"
	TableKnowledge       = "kb_knowledge"
	TableCatalogItem     = "sc_cat_item"
	TableCatalogVariable = "item_option_new"
	TableUser            = "sys_user"
)

// User-facing messages.
const (
	MsgTicketNotFound      = "Ticket not found."
	MsgNoArticles          = "No articles found."
	MsgItemNotFound        = "Item not found."
	MsgInvalidVariables    = "Error: variables_json must be valid JSON."
	failedPrefix           = "FAILED: "
	defaultTicketTable     = TableIncident
	publishedWorkflowState = "published"
)

// ticketTables maps ticket number prefixes to tables. Entries are checked in
// order, so a longer prefix must come before any prefix of itself.
var ticketTables = []struct {
	prefix string
	table  string
}{
	{prefix: "RITM", table: TableRequestedItem},
	{prefix: "REQ", table: TableRequest},
	{prefix: "INC", table: TableIncident},
}

// TicketTable returns the table holding the ticket with the given number.
// Unknown prefixes fall back to the incident table.
func TicketTable(number string) string {
	for _, t := range ticketTables {
		if strings.HasPrefix(number, t.prefix) {
			return t.table
		}
	}
	return defaultTicketTable
}

// Toolset runs the ServiceNow tools against a client.
type Toolset struct {
	client servicenow.Client
	limits config.ToolsConfig
	logger *slog.Logger
}

// New creates a Toolset. Zero limits fall back to 3 articles, 5 users and
// 200-character snippets.
func New(client servicenow.Client, limits config.ToolsConfig, logger *slog.Logger) *Toolset {
	if limits.KnowledgeLimit <= 0 {
		limits.KnowledgeLimit = 3
	}
	if limits.UserLimit <= 0 {
		limits.UserLimit = 5
	}
	if limits.SnippetLength <= 0 {
		limits.SnippetLength = 200
	}
	return &Toolset{
		client: client,
		limits: limits,
		logger: logger.With("component", "tools"),
	}
}
