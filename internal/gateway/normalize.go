package gateway

import (
	"encoding/json"
	"fmt"
)

// API responses are not uniformly shaped. Normalization is centralized here
// with an explicit priority order instead of ad hoc sniffing at call sites.

// UnwrapCollection extracts the array payload of a collection response.
// Shapes are tried in order:
//
//  1. bare array:              [ ... ]
//  2. data field:              { "data": [ ... ] }
//  3. named field:             { "<name>": [ ... ] }     for each name given
//  4. nested data:             { "data": { "<name>": [ ... ] } }
//     and                      { "data": { "data": [ ... ] } }
//
// A valid JSON body with none of these shapes degrades to an empty collection
// rather than an error; only a non-JSON body is an error.
func UnwrapCollection(body []byte, names ...string) (json.RawMessage, error) {
	if arr := asArray(body); arr != nil {
		return arr, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("unexpected collection response: %w", err)
	}

	if arr := asArray(obj["data"]); arr != nil {
		return arr, nil
	}
	for _, name := range names {
		if arr := asArray(obj[name]); arr != nil {
			return arr, nil
		}
	}

	if len(obj["data"]) > 0 {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(obj["data"], &nested); err == nil {
			for _, name := range names {
				if arr := asArray(nested[name]); arr != nil {
					return arr, nil
				}
			}
			if arr := asArray(nested["data"]); arr != nil {
				return arr, nil
			}
		}
	}

	return json.RawMessage(`[]`), nil
}

// UnwrapEntity extracts a single-entity payload: the bare object, or one level
// under "data".
func UnwrapEntity(body []byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("unexpected entity response: %w", err)
	}
	if data, ok := obj["data"]; ok && len(data) > 0 && data[0] == '{' {
		return data, nil
	}
	return body, nil
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type wrappedTokenPair struct {
	Success bool      `json:"success"`
	Data    tokenPair `json:"data"`
}

// UnwrapTokenPair parses a refresh (or login) response. The pair may arrive
// directly or wrapped as { success, data: { ... } }. A missing access token is
// an error: an unparseable refresh response means logout, never a guess.
func UnwrapTokenPair(body []byte) (accessToken, refreshToken string, err error) {
	var direct tokenPair
	if err := json.Unmarshal(body, &direct); err == nil && direct.AccessToken != "" {
		return direct.AccessToken, direct.RefreshToken, nil
	}

	var wrapped wrappedTokenPair
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data.AccessToken != "" {
		return wrapped.Data.AccessToken, wrapped.Data.RefreshToken, nil
	}

	return "", "", fmt.Errorf("response carries no access token")
}

func asArray(raw json.RawMessage) json.RawMessage {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return raw
		default:
			return nil
		}
	}
	return nil
}
