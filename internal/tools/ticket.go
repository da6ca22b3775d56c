package tools

import (
	"context"
	"fmt"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
)

// CheckTicketStatus looks up an incident, request or requested item by
// number and reports its short description and state.
func (s *Toolset) CheckTicketStatus(ctx context.Context, ticketNumber string) (string, error) {
	table := TicketTable(ticketNumber)
	s.logger.Info("🔍 tool called: check_ticket_status", "ticket_number", ticketNumber, "table", table)

	records, err := s.client.GetRecords(ctx, table, servicenow.TableQuery{
		Query:  servicenow.NewQueryBuilder().WhereEquals("number", ticketNumber),
		Fields: servicenow.TicketFields,
	})
	if err != nil {
		return "", fmt.Errorf("looking up %s in %s: %w", ticketNumber, table, err)
	}
	if len(records) == 0 {
		s.logger.Info("   result: ticket not found", "ticket_number", ticketNumber)
		return MsgTicketNotFound, nil
	}

	ticket, err := records[0].ToTicket()
	if err != nil {
		return "", err
	}

	out := fmt.Sprintf("%s: %s (State: %s)", ticket.Number, ticket.ShortDescription, ticket.State)
	s.logger.Info("   ✅ success", "result", out)
	return out, nil
}
