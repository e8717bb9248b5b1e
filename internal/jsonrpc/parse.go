package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Item is one element of an inbound payload: either a valid request or the
// error response it must be answered with.
type Item struct {
	Request *Request
	Invalid *Response
}

// Parse decodes a single or batch payload. The batch flag mirrors the input
// shape so the caller can answer with the same shape. A payload that is not
// JSON at all yields a single parse-error item.
func Parse(body []byte) (items []Item, batch bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []Item{{Invalid: NewError(nil, CodeParseError, "parse error: empty body", nil)}}, false
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return []Item{{Invalid: NewError(nil, CodeParseError, "parse error: "+err.Error(), nil)}}, false
		}
		if len(raws) == 0 {
			return []Item{{Invalid: NewError(nil, CodeInvalidRequest, "invalid request: empty batch", nil)}}, false
		}
		items = make([]Item, len(raws))
		for i, raw := range raws {
			items[i] = parseOne(raw)
		}
		return items, true
	}

	if !json.Valid(trimmed) {
		return []Item{{Invalid: NewError(nil, CodeParseError, "parse error: invalid JSON", nil)}}, false
	}
	return []Item{parseOne(trimmed)}, false
}

func parseOne(raw json.RawMessage) Item {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Item{Invalid: NewError(nil, CodeInvalidRequest, "invalid request: not an object", nil)}
	}
	if msg := validate(&req); msg != "" {
		return Item{Invalid: NewError(validID(req.ID), CodeInvalidRequest, "invalid request: "+msg, nil)}
	}
	return Item{Request: &req}
}

// validate returns an empty string for a well-formed request.
func validate(req *Request) string {
	switch {
	case req.JSONRPC != Version:
		return `missing or unsupported "jsonrpc" version`
	case req.Method == "":
		return `missing "method"`
	case validID(req.ID) == nil:
		return `missing "id"`
	}
	return ""
}

// validID returns the id if it is a string or a number, nil otherwise.
func validID(id json.RawMessage) json.RawMessage {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return nil
	}
	switch c := id[0]; {
	case c == '"':
		return id
	case c == '-' || (c >= '0' && c <= '9'):
		return id
	}
	return nil
}

// Encode marshals responses in the shape of the original payload.
func Encode(resps []*Response, batch bool) ([]byte, error) {
	if batch {
		return json.Marshal(resps)
	}
	if len(resps) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(resps[0])
}
