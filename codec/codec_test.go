package codec

import (
	"reflect"
	"testing"

	"github.com/flowmesh-io/flowmesh/flowerr"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		CreateToken{NetKey: "n1", PlaceIdx: 3, Color: 1, GroupIdx: -1, Data: []byte("hi")},
		NotifyPlace{NetKey: "n1", PlaceIdx: 3, Color: 1, GroupIdx: -1},
		NotifyTransition{NetKey: "n1", TransitionIdx: 2, Color: 1, GroupIdx: -1, EnablerIdx: 7},
		SetToken{NetKey: "n1", PlaceIdx: 3, TokenIdx: 9, Data: []byte("payload")},
		Submit{
			NetKey:         "n1",
			TransitionIdx:  2,
			Color:          1,
			GroupIdx:       -1,
			CommandLine:    "echo hi",
			ResponsePlaces: map[string]int{"success": 4, "failure": 5},
		},
	}

	for _, want := range cases {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %T: %v", want, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch: want %#v got %#v", want, got)
		}
	}
}

func TestDecodeInvalidMessageClass(t *testing.T) {
	_, err := Decode([]byte(`{"message_class":"BogusMessage"}`))
	if !flowerr.Is(err, flowerr.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if !flowerr.Is(err, flowerr.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
