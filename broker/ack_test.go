package broker

import "testing"

func newPCWithState(ackable, nonAckable []uint64) *PublisherConfirmation {
	pc := NewPublisherConfirmation()
	pc.ackable = append([]uint64(nil), ackable...)
	pc.nonAckable = append([]uint64(nil), nonAckable...)
	return pc
}

func assertPop(t *testing.T, pc *PublisherConfirmation, wantTags []uint64, wantMultiple bool) {
	t.Helper()
	tags, multiple := pc.PopAckableReceiveTags()
	if len(tags) != len(wantTags) {
		t.Fatalf("tags = %v, want %v", tags, wantTags)
	}
	for i := range tags {
		if tags[i] != wantTags[i] {
			t.Fatalf("tags = %v, want %v", tags, wantTags)
		}
	}
	if multiple != wantMultiple {
		t.Fatalf("multiple = %v, want %v", multiple, wantMultiple)
	}
}

func TestPopAckableReceiveTagsBoundaryCases(t *testing.T) {
	assertPop(t, newPCWithState(nil, nil), nil, false)
	assertPop(t, newPCWithState([]uint64{5}, nil), []uint64{5}, false)
	assertPop(t, newPCWithState([]uint64{3, 5, 7}, nil), []uint64{7}, true)
	assertPop(t, newPCWithState([]uint64{3, 5, 7}, []uint64{10}), []uint64{7}, true)
	assertPop(t, newPCWithState([]uint64{3, 5, 11}, []uint64{7}), []uint64{5, 11}, false)
	assertPop(t, newPCWithState([]uint64{3, 5, 6, 11}, []uint64{7}), []uint64{6, 11}, true)
}

func TestPopAckableReceiveTagsClearsAckableAfterPop(t *testing.T) {
	pc := newPCWithState([]uint64{1, 2}, nil)
	pc.PopAckableReceiveTags()
	tags, multiple := pc.PopAckableReceiveTags()
	if tags != nil || multiple {
		t.Fatalf("second consecutive pop should be empty, got %v %v", tags, multiple)
	}
}

func TestPublisherConfirmBarrierScenario(t *testing.T) {
	pc := NewPublisherConfirmation()
	pc.OnReceive(1)
	pc.OnPublish(1, 100)
	pc.OnPublish(1, 101)

	tags, multiple := pc.PopAckableReceiveTags()
	if len(tags) != 0 || multiple {
		t.Fatalf("expected empty batch before any confirm, got %v %v", tags, multiple)
	}

	pc.OnConfirm(100, false)
	tags, _ = pc.PopAckableReceiveTags()
	if len(tags) != 0 {
		t.Fatalf("expected still-empty batch after only one of two publishes confirmed, got %v", tags)
	}

	pc.OnConfirm(101, false)
	assertPop(t, pc, []uint64{1}, false)
}

func TestMultiAckConfirmScenario(t *testing.T) {
	pc := NewPublisherConfirmation()
	pc.OnReceive(1)
	pc.OnReceive(2)
	pc.OnReceive(3)
	assertPop(t, pc, []uint64{3}, true)
}

func TestImmediateTracksLargestTag(t *testing.T) {
	im := NewImmediate()
	im.OnReceive(4)
	im.OnReceive(9)
	im.OnReceive(2)
	tags, multiple := im.PopAckableReceiveTags()
	if len(tags) != 1 || tags[0] != 9 || !multiple {
		t.Fatalf("got %v %v, want [9] true", tags, multiple)
	}
	tags, multiple = im.PopAckableReceiveTags()
	if tags != nil || multiple {
		t.Fatalf("second pop should be empty, got %v %v", tags, multiple)
	}
}
