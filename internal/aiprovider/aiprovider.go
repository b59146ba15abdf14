// Package aiprovider defines the capability boundary to the external AI
// provider. The provider itself (model choice, HTTP transport, token
// accounting) is an external collaborator; this package only fixes the
// contract RequestController depends on.
package aiprovider

import (
	"context"
	"encoding/json"
)

// Message is one turn of the conversation history handed to the provider,
// including synthetic interruption markers RequestController inserts.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Result is what the provider returns for a single Ask call.
type Result struct {
	// DirectAnswer, Response, Message, Output mirror the field-name
	// fallback chain RequestController uses to extract answer text,
	// matching providers that disagree on the response envelope.
	DirectAnswer string
	Response     string
	Message      string
	Output       string
	TokensUsed   int64
	Raw          any // full decoded response, for serialization fallback
}

// Provider is the capability RequestController depends on: ask a
// question given conversation history, cancellable via ctx.
type Provider interface {
	Ask(ctx context.Context, question string, history []Message) (Result, error)
}

// Text extracts the answer text from a Result using the field-priority
// fallback chain: directAnswer, response, message, output, else the
// serialized raw response — a provider whose envelope matches none of
// the known field names still produced an answer, and dropping it would
// complete the request with an empty response.
func Text(r Result) string {
	switch {
	case r.DirectAnswer != "":
		return r.DirectAnswer
	case r.Response != "":
		return r.Response
	case r.Message != "":
		return r.Message
	case r.Output != "":
		return r.Output
	default:
		if r.Raw == nil {
			return ""
		}
		data, err := json.Marshal(r.Raw)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
