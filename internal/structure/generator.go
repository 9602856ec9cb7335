package structure

import (
	"math/rand"
)

// Segmenter turns a table duration into an ordered list of segment
// durations. Implementations must return durations that sum exactly to the
// requested duration.
type Segmenter func(duration int) []int

// NewExponentialSegmenter returns the canonical segmentation strategy:
// exponentially distributed segment lengths with scale halfLife, clamped to
// at least minDuration, accumulating until the target duration is reached
// exactly. The final segment absorbs whatever remains.
func NewExponentialSegmenter(rng *rand.Rand, halfLife float64, minDuration int) Segmenter {
	return func(duration int) []int {
		var durations []int
		endTime := 0
		for endTime != duration {
			segDuration := int(rng.ExpFloat64() * halfLife)
			if segDuration < minDuration {
				segDuration = minDuration
			}
			// A zero-length segment would stall the accumulation.
			if segDuration < 1 {
				segDuration = 1
			}
			if remaining := duration - endTime; segDuration > remaining {
				segDuration = remaining
			}
			durations = append(durations, segDuration)
			endTime += segDuration
		}
		return durations
	}
}

// SpeakerGroups partitions the speaker ids 1..sum(tableSizes) into
// contiguous runs, one per table, e.g. [2, 3] -> [[1, 2], [3, 4, 5]].
func SpeakerGroups(tableSizes []int) [][]int {
	groups := make([][]int, 0, len(tableSizes))
	next := 1
	for _, size := range tableSizes {
		group := make([]int, 0, size)
		for i := 0; i < size; i++ {
			group = append(group, next)
			next++
		}
		groups = append(groups, group)
	}
	return groups
}

// ConversationSegment builds the node for one segment of a table: a single
// conversation when there is one speaker group, otherwise a splitter of
// simultaneous conversations, one per group.
func ConversationSegment(speakerGroups [][]int, duration int) Node {
	if len(speakerGroups) == 1 {
		return Conversation{Speakers: speakerGroups[0], Duration: duration}
	}
	elements := make([]Node, 0, len(speakerGroups))
	for _, group := range speakerGroups {
		elements = append(elements, Conversation{Speakers: group, Duration: duration})
	}
	return Splitter{Elements: elements}
}

// Generator builds random structure trees. All randomness is drawn from the
// supplied source so a fixed seed reproduces the same tree.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Table builds the conversation pattern for one table. Tables with fewer
// than four speakers, or without a segmenter, hold a single conversation
// spanning the whole duration. Larger tables alternate between one
// conversation across all speakers and two parallel conversations between
// freshly shuffled subgroups.
func (g *Generator) Table(speakers []int, duration int, segmenter Segmenter) Node {
	if len(speakers) < 4 || segmenter == nil {
		return ConversationSegment([][]int{speakers}, duration)
	}

	durations := segmenter(duration)
	var speakerGroups [][][]int
	for len(speakerGroups) < len(durations) {
		speakerGroups = append(speakerGroups, [][]int{speakers})
		shuffled := append([]int(nil), speakers...)
		g.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		speakerGroups = append(speakerGroups, [][]int{shuffled[:2], shuffled[2:]})
	}
	speakerGroups = speakerGroups[:len(durations)]

	elements := make([]Node, 0, len(durations))
	for i, d := range durations {
		elements = append(elements, ConversationSegment(speakerGroups[i], d))
	}
	return Sequence{Speakers: speakers, Elements: elements}
}

// ParallelConversations builds the structure for a whole session: one table
// node per entry in tableSizes, all running in parallel, wrapped in an
// outer sequence spanning every speaker so consumers can recurse from a
// single root type.
func (g *Generator) ParallelConversations(tableSizes []int, duration int, segmenter Segmenter) Node {
	nSpeakers := 0
	for _, size := range tableSizes {
		nSpeakers += size
	}
	speakers := make([]int, nSpeakers)
	for i := range speakers {
		speakers[i] = i + 1
	}

	tables := make([]Node, 0, len(tableSizes))
	for _, group := range SpeakerGroups(tableSizes) {
		tables = append(tables, g.Table(group, duration, segmenter))
	}
	return Sequence{
		Speakers: speakers,
		Elements: []Node{Splitter{Elements: tables}},
	}
}
