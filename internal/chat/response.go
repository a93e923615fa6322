package chat

import "strings"

// Response is what the bot answers to an event. The concrete types are
// Message, Action, Success, List and the None value.
type Response interface {
	// Flatten returns the leaf responses in depth-first order.
	// Only meant for comparisons; delivery walks the tree itself.
	Flatten() []Response

	isResponse()
}

// Message is a plain text message.
type Message struct {
	Content string
}

// Action is an action ("/me ...") performed by the bot.
type Action struct {
	Content string
}

// Success is a message that completes a successful request, such as a
// recommendation.
type Success struct {
	Content string
}

type noResponse struct{}

// None is the empty response. It is still submitted to the delivery
// queue, which simply has nothing to send.
var None Response = noResponse{}

// List is a sequence of responses delivered in order.
type List []Response

func (Message) isResponse()    {}
func (Action) isResponse()     {}
func (Success) isResponse()    {}
func (noResponse) isResponse() {}
func (List) isResponse()       {}

func (r Message) Flatten() []Response  { return []Response{r} }
func (r Action) Flatten() []Response   { return []Response{r} }
func (r Success) Flatten() []Response  { return []Response{r} }
func (noResponse) Flatten() []Response { return nil }

func (l List) Flatten() []Response {
	var out []Response
	for _, r := range l {
		out = append(out, r.Flatten()...)
	}
	return out
}

func (noResponse) String() string { return "None" }

// Then concatenates responses, dropping None values. A single remaining
// response is returned as is; nothing remaining yields None.
func Then(responses ...Response) Response {
	var out List
	for _, r := range responses {
		if r == nil || r == None {
			continue
		}
		out = append(out, r)
	}
	switch len(out) {
	case 0:
		return None
	case 1:
		return out[0]
	default:
		return out
	}
}

// IsNone reports whether r is nil, None or a list without leaves.
func IsNone(r Response) bool {
	return r == nil || len(r.Flatten()) == 0
}

// Text returns the content of a leaf response, or the leaves' contents
// joined by newlines for a list.
func Text(r Response) string {
	var parts []string
	for _, leaf := range flattenOrEmpty(r) {
		switch v := leaf.(type) {
		case Message:
			parts = append(parts, v.Content)
		case Action:
			parts = append(parts, v.Content)
		case Success:
			parts = append(parts, v.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func flattenOrEmpty(r Response) []Response {
	if r == nil {
		return nil
	}
	return r.Flatten()
}
