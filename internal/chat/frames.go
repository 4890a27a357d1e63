package chat

import (
	"encoding/json"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/normalize"
)

// Action names an inbound client request.
type Action string

const (
	ActionSend   Action = "send"
	ActionRead   Action = "read"
	ActionSearch Action = "search"
	ActionEdit   Action = "edit_message"
	ActionDelete Action = "delete_messages"
)

// Frame is an inbound client frame normalized to a tagged action.
type Frame struct {
	Action   Action
	Text     string
	ParentID *int64
	Query    string
	ID       int64   // edit target
	IDs      []int64 // delete batch, already normalized
}

// ParseFrame decodes one inbound JSON frame. Clients either name the action
// explicitly or send one of the shorthand shapes {message}, {read:true} and
// {search}, recognized by key presence.
func ParseFrame(raw []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Frame{}, apperr.MalformedFrame("frame is not a JSON object", err)
	}

	action, err := frameAction(fields)
	if err != nil {
		return Frame{}, err
	}

	f := Frame{Action: action}
	switch action {
	case ActionSend:
		if f.Text, err = stringField(fields, "message"); err != nil {
			return Frame{}, err
		}
		if raw, ok := fields["parent_id"]; ok {
			if ids := normalize.IDs(raw); len(ids) > 0 {
				f.ParentID = &ids[0]
			}
		}
	case ActionRead:
		if raw, ok := fields["read"]; ok {
			var read bool
			if err := json.Unmarshal(raw, &read); err != nil || !read {
				return Frame{}, apperr.MalformedFrame("read must be true", err)
			}
		}
	case ActionSearch:
		if f.Query, err = stringField(fields, "search"); err != nil {
			return Frame{}, err
		}
	case ActionEdit:
		ids := normalize.IDs(fields["id"])
		if len(ids) == 0 {
			return Frame{}, apperr.MalformedFrame("edit_message needs an id", nil)
		}
		f.ID = ids[0]
		if f.Text, err = stringField(fields, "text"); err != nil {
			return Frame{}, err
		}
	case ActionDelete:
		if raw, ok := fields["ids"]; ok {
			f.IDs = normalize.IDs(raw)
		} else {
			f.IDs = normalize.IDs(fields["id"])
		}
	}
	return f, nil
}

func frameAction(fields map[string]json.RawMessage) (Action, error) {
	if raw, ok := fields["action"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", apperr.MalformedFrame("action must be a string", err)
		}
		switch a := Action(name); a {
		case ActionSend, ActionRead, ActionSearch, ActionEdit, ActionDelete:
			return a, nil
		}
		return "", apperr.MalformedFrame("unknown action "+name, nil)
	}
	switch {
	case has(fields, "message"):
		return ActionSend, nil
	case has(fields, "read"):
		return ActionRead, nil
	case has(fields, "search"):
		return ActionSearch, nil
	}
	return "", apperr.MalformedFrame("unrecognized frame", nil)
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", apperr.MalformedFrame(key+" must be a string", err)
	}
	return s, nil
}
