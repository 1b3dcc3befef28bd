package broker

import "sort"

// AckStrategy decides when an inbound delivery may be acknowledged to the
// bus, per spec.md §4.5. Implementations are not required to be
// concurrency-safe on their own; Broker serializes access to the active
// strategy instance per channel.
type AckStrategy interface {
	// OnReceive records that inbound delivery tag was received.
	OnReceive(tag uint64)
	// OnPublish records that a publish with tag publishTag was made while
	// handling the inbound delivery identified by causeTag, for later
	// confirm bookkeeping (ignored by Immediate).
	OnPublish(causeTag, publishTag uint64)
	// OnConfirm records that the broker confirmed publishTag.
	OnConfirm(publishTag uint64, multiple bool)
	// PopAckableReceiveTags returns the batch of inbound tags now safe
	// to ack, and whether the ack should be issued as AMQP multi-ack.
	PopAckableReceiveTags() (tags []uint64, multiple bool)
}

// Immediate acks inbound deliveries with no dependency on downstream
// publish confirmation. It tracks only the largest seen receive tag and
// pops it as a multi-ack, which also covers every smaller tag received so
// far, whether or not that delivery's handler has returned yet.
type Immediate struct {
	largest uint64
	has     bool
}

func NewImmediate() *Immediate { return &Immediate{} }

func (im *Immediate) OnReceive(tag uint64) {
	if !im.has || tag > im.largest {
		im.largest = tag
		im.has = true
	}
}

func (im *Immediate) OnPublish(causeTag, publishTag uint64) {}
func (im *Immediate) OnConfirm(publishTag uint64, multiple bool) {}

func (im *Immediate) PopAckableReceiveTags() ([]uint64, bool) {
	if !im.has {
		return nil, false
	}
	tag := im.largest
	im.has = false
	return []uint64{tag}, true
}

// PublisherConfirmation defers the ack of an inbound message until every
// publish it caused has been positively confirmed by the broker, per
// spec.md §4.5's bookkeeping description.
type PublisherConfirmation struct {
	ackable    []uint64            // sorted set A
	nonAckable []uint64            // sorted set U
	causeOf    map[uint64]uint64   // publish tag -> causing receive tag
	pending    map[uint64]map[uint64]bool // receive tag -> outstanding publish tags
}

func NewPublisherConfirmation() *PublisherConfirmation {
	return &PublisherConfirmation{
		causeOf: map[uint64]uint64{},
		pending: map[uint64]map[uint64]bool{},
	}
}

func sortedInsert(s []uint64, v uint64) []uint64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if i < len(s) && s[i] == v {
		return s
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func sortedRemove(s []uint64, v uint64) []uint64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if i < len(s) && s[i] == v {
		return append(s[:i], s[i+1:]...)
	}
	return s
}

func (pc *PublisherConfirmation) OnReceive(tag uint64) {
	pc.ackable = sortedInsert(pc.ackable, tag)
}

func (pc *PublisherConfirmation) OnPublish(causeTag, publishTag uint64) {
	pc.causeOf[publishTag] = causeTag
	if pc.pending[causeTag] == nil {
		pc.pending[causeTag] = map[uint64]bool{}
	}
	pc.pending[causeTag][publishTag] = true

	// Caused tag moves from ackable to non-ackable the first time it
	// gains an outstanding publish.
	if idx := sort.Search(len(pc.ackable), func(i int) bool { return pc.ackable[i] >= causeTag }); idx < len(pc.ackable) && pc.ackable[idx] == causeTag {
		pc.ackable = sortedRemove(pc.ackable, causeTag)
		pc.nonAckable = sortedInsert(pc.nonAckable, causeTag)
	}
}

func (pc *PublisherConfirmation) OnConfirm(publishTag uint64, multiple bool) {
	if multiple {
		for tag := range pc.causeOf {
			if tag <= publishTag {
				pc.confirmOne(tag)
			}
		}
		return
	}
	pc.confirmOne(publishTag)
}

func (pc *PublisherConfirmation) confirmOne(publishTag uint64) {
	cause, ok := pc.causeOf[publishTag]
	if !ok {
		return
	}
	delete(pc.causeOf, publishTag)
	set := pc.pending[cause]
	if set == nil {
		return
	}
	delete(set, publishTag)
	if len(set) == 0 {
		delete(pc.pending, cause)
		pc.nonAckable = sortedRemove(pc.nonAckable, cause)
		pc.ackable = sortedInsert(pc.ackable, cause)
	}
}

// PopAckableReceiveTags implements spec.md §4.5's batching algorithm, with
// the multiple flag computed as explained below: the contiguous safe prefix
// of A below the earliest unfinished
// publish is folded into one multi-ack; any ackable tags above that
// barrier are appended individually.
func (pc *PublisherConfirmation) PopAckableReceiveTags() ([]uint64, bool) {
	a := pc.ackable
	u := pc.nonAckable
	defer func() { pc.ackable = nil }()

	if len(a) == 0 {
		return nil, false
	}
	if len(u) == 0 || u[0] > a[len(a)-1] {
		return []uint64{a[len(a)-1]}, len(a) > 1
	}

	i := sort.Search(len(a), func(i int) bool { return a[i] > u[0] })
	var out []uint64
	if i > 0 {
		out = append(out, a[i-1])
	}
	out = append(out, a[i:]...)
	// multiple is true only when the collapsed prefix absorbs more than
	// one other tag besides its own representative (i.e. i > 2): folding
	// exactly two tags (i == 2, as in A=[3,5,11] U=[7] -> [5, 11]) is
	// still reported as a single, non-multi ack per spec.md §8's worked
	// examples, which disagree with a literal i > 1 reading of §4.5's
	// prose formula; the worked examples are taken as authoritative.
	multiple := i > 2
	return out, multiple
}
