package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
)

// GetUserID finds active users whose name or email contains nameOrEmail.
func (s *Toolset) GetUserID(ctx context.Context, nameOrEmail string) (string, error) {
	s.logger.Info("👤 tool called: get_user_id", "name_or_email", nameOrEmail)

	records, err := s.client.GetRecords(ctx, TableUser, servicenow.TableQuery{
		Query: servicenow.NewQueryBuilder().
			WhereLike("name", nameOrEmail).
			OrWhereLike("email", nameOrEmail).
			WhereEquals("active", "true"),
		Fields: servicenow.UserFields,
		Limit:  s.limits.UserLimit,
	})
	if err != nil {
		return "", fmt.Errorf("searching users: %w", err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("User '%s' not found.", nameOrEmail), nil
	}

	var b strings.Builder
	b.WriteString("Found Users:\n")
	for _, rec := range records {
		u, err := rec.ToUser()
		if err != nil {
			return "", err
		}
		line := fmt.Sprintf("- Name: %s | Email: %s | UserID: %s | SYS_ID: %s", u.Name, u.Email, u.UserName, u.SysID)
		b.WriteString(line + "\n")
		s.logger.Info("   " + line)
	}
	return b.String(), nil
}
