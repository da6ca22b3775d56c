package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
)

var catalogItemFields = []string{"sys_id", "name"}

// findCatalogItem resolves an item by exact name. A nil item means not found.
func (s *Toolset) findCatalogItem(ctx context.Context, name string) (*servicenow.CatalogItem, error) {
	records, err := s.client.GetRecords(ctx, TableCatalogItem, servicenow.TableQuery{
		Query:  servicenow.NewQueryBuilder().WhereEquals("name", name),
		Fields: catalogItemFields,
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("looking up catalog item %q: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	item, err := records[0].ToCatalogItem()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetCatalogVariables lists the active variables of a catalog item so that
// a caller knows what to supply before ordering.
func (s *Toolset) GetCatalogVariables(ctx context.Context, itemName string) (string, error) {
	s.logger.Info("🧐 tool called: get_catalog_variables", "item_name", itemName)

	item, err := s.findCatalogItem(ctx, itemName)
	if err != nil {
		return "", err
	}
	if item == nil {
		s.logger.Info("   ❌ item not found", "item_name", itemName)
		return fmt.Sprintf("Item '%s' not found.", itemName), nil
	}
	s.logger.Info("   found item", "name", item.Name, "sys_id", item.SysID)

	records, err := s.client.GetRecords(ctx, TableCatalogVariable, servicenow.TableQuery{
		Query: servicenow.NewQueryBuilder().
			WhereEquals("cat_item", item.SysID).
			WhereEquals("active", "true"),
		Fields: servicenow.CatalogVariableFields,
	})
	if err != nil {
		return "", fmt.Errorf("listing variables of %q: %w", item.Name, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ITEM: %s\nVARIABLES:\n", item.Name)
	for _, rec := range records {
		v, err := rec.ToCatalogVariable()
		if err != nil {
			return "", err
		}
		mark := "(Optional)"
		if v.Mandatory {
			mark = "[MANDATORY]"
		}
		line := fmt.Sprintf("- %s (Key: %s) %s", v.QuestionText, v.Name, mark)
		b.WriteString(line + "\n")
		s.logger.Info("   found var: " + line)
	}
	return b.String(), nil
}

// SubmitCatalogRequest orders one unit of a catalog item.
//
// Failures while placing the order are returned as a "FAILED: ..." message
// rather than an error; the caller never sees a raw ordering error.
func (s *Toolset) SubmitCatalogRequest(ctx context.Context, itemName, variablesJSON string) (string, error) {
	s.logger.Info("🛒 tool called: submit_catalog_request", "item_name", itemName, "variables_json", variablesJSON)

	variables, ok := parseVariables(variablesJSON)
	if !ok {
		s.logger.Info("   ❌ error: invalid JSON format")
		return MsgInvalidVariables, nil
	}

	item, err := s.findCatalogItem(ctx, itemName)
	if err != nil {
		return "", err
	}
	if item == nil {
		return MsgItemNotFound, nil
	}

	res, err := s.client.OrderNow(ctx, item.SysID, variables)
	if err != nil {
		s.logger.Error("   ❌ FAILED", "item", item.Name, "error", err)
		return failedPrefix + err.Error(), nil
	}

	s.logger.Info("   ✅ SUCCESS", "request_number", res.RequestNumber)
	return fmt.Sprintf("SUCCESS! Request %s created.", res.RequestNumber), nil
}

// parseVariables decodes a JSON object. Anything else, including null,
// is rejected.
func parseVariables(raw string) (map[string]any, bool) {
	var vars map[string]any
	if err := json.Unmarshal([]byte(raw), &vars); err != nil || vars == nil {
		return nil, false
	}
	return vars, true
}
