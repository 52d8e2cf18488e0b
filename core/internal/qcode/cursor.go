package qcode

import (
	"encoding/base64"
	"encoding/json"
)

// cursorPayload is the decoded form of an opaque pagination token.
type cursorPayload struct {
	Field string `json:"f"`
	Value any    `json:"v"`
}

// EncodeCursor builds an opaque pagination token from an ordering field and
// the boundary value of the last document on the page.
func EncodeCursor(field string, value any) (string, error) {
	b, err := json.Marshal(cursorPayload{Field: field, Value: value})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor unpacks a pagination token. Malformed tokens surface as
// InvalidPaginationError.
func DecodeCursor(token string) (string, any, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", nil, &InvalidPaginationError{Reason: "malformed cursor token"}
	}
	var p cursorPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", nil, &InvalidPaginationError{Reason: "malformed cursor token"}
	}
	if p.Field == "" {
		return "", nil, &InvalidPaginationError{Reason: "cursor is missing the ordering field"}
	}
	return p.Field, p.Value, nil
}
