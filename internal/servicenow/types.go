// Package servicenow provides types and utilities for interacting with the ServiceNow REST API.
package servicenow

import "fmt"

// Record represents a single ServiceNow table record as a map of field names to values.
type Record map[string]interface{}

// TableResponse represents the JSON response from the ServiceNow Table API.
// Result is a pointer so that a body without a "result" key can be told
// apart from an empty list.
type TableResponse struct {
	Result *[]Record `json:"result"`
}

// ErrorResponse represents a ServiceNow API error response body.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

// Field returns the value of field as a string. Values requested through
// sysparm_fields come back as strings; anything else is formatted with %v.
// A null field is present and renders as "". An absent field is a
// *FieldError naming object.
func (r Record) Field(object, field string) (string, error) {
	v, ok := r[field]
	if !ok {
		return "", &FieldError{Object: object, Field: field}
	}
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// fields extracts several fields in one go, stopping at the first absent one.
func (r Record) fields(object string, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v, err := r.Field(object, name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ----- Typed views -----

// Ticket is an incident, request, or requested item.
type Ticket struct {
	Number           string
	ShortDescription string
	State            string
}

// TicketFields is the sysparm_fields list for Ticket.
var TicketFields = []string{"state", "short_description", "number"}

// ToTicket extracts a Ticket.
func (r Record) ToTicket() (Ticket, error) {
	f, err := r.fields("ticket", "number", "short_description", "state")
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{Number: f[0], ShortDescription: f[1], State: f[2]}, nil
}

// Article is a knowledge base article.
type Article struct {
	Number           string
	ShortDescription string
	Text             string
}

// ArticleFields is the sysparm_fields list for Article.
var ArticleFields = []string{"number", "short_description", "text"}

// ToArticle extracts an Article.
func (r Record) ToArticle() (Article, error) {
	f, err := r.fields("kb_knowledge", "number", "short_description", "text")
	if err != nil {
		return Article{}, err
	}
	return Article{Number: f[0], ShortDescription: f[1], Text: f[2]}, nil
}

// CatalogItem is an orderable service catalog entry.
type CatalogItem struct {
	SysID string
	Name  string
}

// ToCatalogItem extracts a CatalogItem.
func (r Record) ToCatalogItem() (CatalogItem, error) {
	f, err := r.fields("sc_cat_item", "sys_id", "name")
	if err != nil {
		return CatalogItem{}, err
	}
	return CatalogItem{SysID: f[0], Name: f[1]}, nil
}

// CatalogVariable is one input of a catalog item.
type CatalogVariable struct {
	QuestionText string
	Name         string
	Mandatory    bool
}

// CatalogVariableFields is the sysparm_fields list for CatalogVariable.
var CatalogVariableFields = []string{"question_text", "name", "mandatory"}

// ToCatalogVariable extracts a CatalogVariable. Only the literal string
// "true" marks a variable as mandatory.
func (r Record) ToCatalogVariable() (CatalogVariable, error) {
	f, err := r.fields("item_option_new", "question_text", "name", "mandatory")
	if err != nil {
		return CatalogVariable{}, err
	}
	return CatalogVariable{QuestionText: f[0], Name: f[1], Mandatory: f[2] == "true"}, nil
}

// User is a sys_user record.
type User struct {
	SysID    string
	Name     string
	Email    string
	UserName string
}

// UserFields is the sysparm_fields list for User.
var UserFields = []string{"sys_id", "name", "email", "user_name"}

// ToUser extracts a User.
func (r Record) ToUser() (User, error) {
	f, err := r.fields("sys_user", "sys_id", "name", "email", "user_name")
	if err != nil {
		return User{}, err
	}
	return User{SysID: f[0], Name: f[1], Email: f[2], UserName: f[3]}, nil
}

// OrderResult is the outcome of a service catalog order_now call.
type OrderResult struct {
	RequestNumber string
	RequestID     string
}
