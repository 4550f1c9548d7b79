package message

// RetrieveMode selects how much of a message a view keeps.
type RetrieveMode int

const (
	// RetrieveAll keeps every field.
	RetrieveAll RetrieveMode = iota
	// RetrieveNoSender drops the sender.
	RetrieveNoSender
	// RetrieveContentInfo keeps content_type and content.
	RetrieveContentInfo
	// RetrieveContent keeps the bare content value.
	RetrieveContent
)

func (m RetrieveMode) String() string {
	switch m {
	case RetrieveAll:
		return "ALL"
	case RetrieveNoSender:
		return "NO_SENDER"
	case RetrieveContentInfo:
		return "CONTENT_INFO"
	case RetrieveContent:
		return "CONTENT"
	default:
		return "UNKNOWN"
	}
}

// Retrieve returns a JSON-ready view of the message. RetrieveContent returns
// the content value itself; the other modes return a map with empty fields
// omitted.
func (m *Message) Retrieve(mode RetrieveMode) any {
	var content any
	if m.Content != nil {
		content = m.Content.Value()
	}
	if mode == RetrieveContent {
		return content
	}

	view := make(map[string]any, 8+len(m.Extra))
	if m.ContentType != "" {
		view["content_type"] = m.ContentType
	}
	view["content"] = content
	if mode == RetrieveContentInfo {
		return view
	}

	for k, v := range m.Extra {
		if _, reserved := reservedKeys[k]; !reserved {
			view[k] = v
		}
	}
	if mode == RetrieveAll && m.Sender != nil {
		view["sender"] = m.Sender
	}
	if m.Receiver != nil {
		view["receiver"] = m.Receiver
	}
	if m.Time != "" {
		view["time"] = m.Time
	}
	if m.ID != "" {
		view["id"] = m.ID
	}
	if m.ThreadID != "" {
		view["thrd_id"] = m.ThreadID
	}
	return view
}
