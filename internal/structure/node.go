package structure

import (
	"encoding/json"
	"fmt"
)

// Node kinds as they appear in the "type" field of serialized structures.
const (
	TypeSequence     = "sequence"
	TypeSplitter     = "splitter"
	TypeConversation = "conversation"
	TypePause        = "pause"
)

// Node is one element of a conversational structure tree. A structure is
// immutable once built; generators produce fresh trees rather than editing
// existing ones.
type Node interface {
	// Type reports the serialized node kind.
	Type() string
	// NominalDuration reports the node's nominal length in seconds: the sum
	// of children for a sequence, the max of children for a splitter.
	NominalDuration() int
}

// Sequence runs its child elements back to back in listed order.
type Sequence struct {
	Speakers []int
	Elements []Node
}

// Splitter runs its child elements as overlapping sub-timelines that all
// share the same start offset.
type Splitter struct {
	Elements []Node
}

// Conversation is a leaf describing one multi-party exchange lasting
// approximately Duration seconds.
type Conversation struct {
	Speakers []int
	Duration int
}

// Pause shifts the effective end time seen by a later sibling. It only
// exists while a scene is being generated and never survives into output.
type Pause struct {
	Duration int
}

func (Sequence) Type() string     { return TypeSequence }
func (Splitter) Type() string     { return TypeSplitter }
func (Conversation) Type() string { return TypeConversation }
func (Pause) Type() string        { return TypePause }

func (s Sequence) NominalDuration() int {
	total := 0
	for _, e := range s.Elements {
		total += e.NominalDuration()
	}
	return total
}

func (s Splitter) NominalDuration() int {
	longest := 0
	for _, e := range s.Elements {
		if d := e.NominalDuration(); d > longest {
			longest = d
		}
	}
	return longest
}

func (c Conversation) NominalDuration() int { return c.Duration }
func (p Pause) NominalDuration() int        { return p.Duration }

func (s Sequence) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Speakers []int  `json:"speakers"`
		Elements []Node `json:"elements"`
	}{TypeSequence, s.Speakers, s.Elements})
}

func (s Splitter) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Elements []Node `json:"elements"`
	}{TypeSplitter, s.Elements})
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Speakers []int  `json:"speakers"`
		Duration int    `json:"duration"`
	}{TypeConversation, c.Speakers, c.Duration})
}

func (p Pause) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Duration int    `json:"duration"`
	}{TypePause, p.Duration})
}

// Decode parses a serialized structure tree, dispatching on the "type" tag.
func Decode(data []byte) (Node, error) {
	var head struct {
		Type     string            `json:"type"`
		Speakers []int             `json:"speakers"`
		Duration int               `json:"duration"`
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode structure node: %w", err)
	}

	decodeChildren := func(raw []json.RawMessage) ([]Node, error) {
		elements := make([]Node, 0, len(raw))
		for _, r := range raw {
			child, err := Decode(r)
			if err != nil {
				return nil, err
			}
			elements = append(elements, child)
		}
		return elements, nil
	}

	switch head.Type {
	case TypeSequence:
		elements, err := decodeChildren(head.Elements)
		if err != nil {
			return nil, err
		}
		return Sequence{Speakers: head.Speakers, Elements: elements}, nil
	case TypeSplitter:
		elements, err := decodeChildren(head.Elements)
		if err != nil {
			return nil, err
		}
		return Splitter{Elements: elements}, nil
	case TypeConversation:
		return Conversation{Speakers: head.Speakers, Duration: head.Duration}, nil
	case TypePause:
		return Pause{Duration: head.Duration}, nil
	default:
		return nil, fmt.Errorf("unknown structure node type %q", head.Type)
	}
}
