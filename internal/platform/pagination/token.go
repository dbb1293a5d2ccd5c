package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const tokenPrefix = "v1."

type tokenPayload struct {
	Scope      string `json:"s,omitempty"`
	StartAfter []any  `json:"a"`
}

// EncodeToken serialises cursor into an opaque URL-safe page token bound to scope.
// An empty cursor yields an empty token.
func EncodeToken(scope string, cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tokenPayload{Scope: strings.TrimSpace(scope), StartAfter: cursor.StartAfter})
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken. Tokens minted for another scope are rejected.
func DecodeToken(scope, token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return Cursor{}, fmt.Errorf("%w: unknown token version", ErrInvalidPageToken)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if payload.Scope != strings.TrimSpace(scope) {
		return Cursor{}, fmt.Errorf("%w: token belongs to another scope", ErrInvalidPageToken)
	}
	return Cursor{StartAfter: payload.StartAfter}, nil
}
