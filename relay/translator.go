package relay

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
)

// TranslatorOptions configures event translation.
type TranslatorOptions struct {
	// PassthroughArgumentDeltas forwards raw argument fragments as
	// tool_call_arguments_delta events. Off by default; most clients only
	// want the assembled arguments.
	PassthroughArgumentDeltas bool
}

// callRecord tracks one announced tool call across its event lifetime.
type callRecord struct {
	itemID string
	callID string
	name   string
	args   strings.Builder
	closed bool
}

// Translator maps engine events onto the client event vocabulary. It is
// stateful: call announcements are recorded so later fragments, assembled
// arguments and outputs can be attributed to the right call. Attribution is
// strict when the engine carries an identifier; otherwise the most recently
// started open call is assumed and the emitted event is marked inferred.
//
// A Translator serves a single engine run and is not safe for concurrent use.
type Translator struct {
	passthrough bool
	records     []*callRecord
	byItem      map[string]*callRecord
	byCall      map[string]*callRecord
}

// NewTranslator constructs a translator for one engine run.
func NewTranslator(optFns ...func(o *TranslatorOptions)) *Translator {
	opts := TranslatorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Translator{
		passthrough: opts.PassthroughArgumentDeltas,
		byItem:      make(map[string]*callRecord),
		byCall:      make(map[string]*callRecord),
	}
}

// Translate converts one engine event. The second result is false when the
// event produces no client event (suppressed deltas, unknown kinds).
func (t *Translator) Translate(ev engine.Event) (core.ClientEvent, bool) {
	switch ev.Kind {
	case engine.EventTextDelta:
		return core.NewTokenEvent(ev.Delta), true

	case engine.EventCallStarted:
		rec := &callRecord{itemID: ev.ItemID, callID: ev.CallID, name: ev.Name}
		t.records = append(t.records, rec)
		if rec.itemID != "" {
			t.byItem[rec.itemID] = rec
		}
		if rec.callID != "" {
			t.byCall[rec.callID] = rec
		}
		return core.NewToolCallStartedEvent(rec.name, rec.callID), true

	case engine.EventArgumentsDelta:
		rec, inferred := t.resolve("", ev.ItemID)
		if rec != nil {
			rec.args.WriteString(ev.Delta)
		}
		if !t.passthrough {
			return core.ClientEvent{}, false
		}
		out := core.NewToolCallArgumentsDeltaEvent(recordCallID(rec), ev.Delta)
		out.InferredCall = inferred
		return out, true

	case engine.EventArgumentsDone:
		rec, inferred := t.resolve(ev.CallID, ev.ItemID)
		raw := ev.Arguments
		if raw == "" && rec != nil {
			raw = rec.args.String()
		}
		name := ev.Name
		if name == "" && rec != nil {
			name = rec.name
		}
		callID := ev.CallID
		if callID == "" {
			callID = recordCallID(rec)
		}
		out := core.NewToolCallArgumentsCompleteEvent(name, callID, parseArguments(raw))
		out.InferredCall = inferred
		return out, true

	case engine.EventCallFinished:
		rec, inferred := t.resolve(ev.CallID, "")
		name := ev.Name
		if name == "" && rec != nil {
			name = rec.name
		}
		callID := ev.CallID
		if callID == "" {
			callID = recordCallID(rec)
		}
		if rec != nil {
			rec.closed = true
		}
		out := core.NewToolCallFinishedEvent(name, callID)
		out.InferredCall = inferred
		return out, true

	case engine.EventToolOutput:
		name := ev.Name
		if name == "" {
			if rec, ok := t.byCall[ev.CallID]; ok {
				name = rec.name
			}
		}
		return core.NewToolResponseEvent(name, ev.CallID, ev.Output), true

	case engine.EventCompleted:
		return core.NewCompletionEvent(), true

	default:
		// Forward compatibility: unknown engine kinds are dropped rather
		// than surfaced as malformed client events.
		return core.ClientEvent{}, false
	}
}

// resolve finds the call a fragment belongs to. Identifier matches are exact;
// when neither id resolves, the most recently started open call is assumed
// and the second result reports the guess.
func (t *Translator) resolve(callID, itemID string) (*callRecord, bool) {
	if callID != "" {
		if rec, ok := t.byCall[callID]; ok {
			return rec, false
		}
		// The id is authoritative even without a matching start record.
		return nil, false
	}
	if itemID != "" {
		if rec, ok := t.byItem[itemID]; ok {
			return rec, false
		}
	}
	for i := len(t.records) - 1; i >= 0; i-- {
		if !t.records[i].closed {
			return t.records[i], true
		}
	}
	return nil, false
}

func recordCallID(rec *callRecord) string {
	if rec == nil {
		return ""
	}
	return rec.callID
}

// parseArguments decodes assembled argument text. Empty text yields an empty
// object; undecodable text is passed through as the raw string so the client
// still sees what the model produced.
func parseArguments(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	return parsed
}
