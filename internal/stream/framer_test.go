package stream

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

// drain は取り出せる行をすべて文字列で返す。
func drain(f *LineFramer) []string {
	var lines []string
	for {
		line, ok := f.Next()
		if !ok {
			return lines
		}
		lines = append(lines, string(line))
	}
}

// frameAll はchunksを順にFeedし、各Feed直後に行を取り出して最後にCloseする。
func frameAll(t *testing.T, chunks [][]byte) []string {
	t.Helper()
	f := NewLineFramer()
	var lines []string
	for _, c := range chunks {
		if err := f.Feed(c); err != nil {
			t.Fatalf("Feed returned error: %v", err)
		}
		lines = append(lines, drain(f)...)
	}
	f.Close()
	return append(lines, drain(f)...)
}

func TestLineFramer_SingleChunkMultipleLines(t *testing.T) {
	got := frameAll(t, [][]byte{[]byte("a\nb\nc\n")})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestLineFramer_LineSplitAcrossChunks(t *testing.T) {
	f := NewLineFramer()

	_ = f.Feed([]byte(`{"type":"con`))
	if f.State() != Accumulating {
		t.Errorf("State = %v, want %v", f.State(), Accumulating)
	}
	if _, ok := f.Next(); ok {
		t.Fatal("partial line must not be returned")
	}

	_ = f.Feed([]byte(`tent","text":"A"}` + "\n"))
	if f.State() != LineReady {
		t.Errorf("State = %v, want %v", f.State(), LineReady)
	}

	line, ok := f.Next()
	if !ok {
		t.Fatal("expected a complete line")
	}
	if string(line) != `{"type":"content","text":"A"}` {
		t.Errorf("line = %q", line)
	}

	// 同じ行が二度返らないこと
	if _, ok := f.Next(); ok {
		t.Error("line must be returned exactly once")
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", f.Buffered())
	}
}

func TestLineFramer_CloseFlushesTrailingLine(t *testing.T) {
	f := NewLineFramer()
	_ = f.Feed([]byte("first\nlast-without-newline"))

	if got := drain(f); !reflect.DeepEqual(got, []string{"first"}) {
		t.Fatalf("before Close lines = %v", got)
	}

	f.Close()
	if f.State() != LineReady {
		t.Errorf("State = %v, want %v", f.State(), LineReady)
	}
	if got := drain(f); !reflect.DeepEqual(got, []string{"last-without-newline"}) {
		t.Errorf("after Close lines = %v", got)
	}
	if f.State() != StreamClosed {
		t.Errorf("State = %v, want %v", f.State(), StreamClosed)
	}
}

func TestLineFramer_FeedAfterClose(t *testing.T) {
	f := NewLineFramer()
	f.Close()

	if err := f.Feed([]byte("x\n")); !errors.Is(err, ErrClosed) {
		t.Errorf("Feed after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestLineFramer_StripsCarriageReturn(t *testing.T) {
	got := frameAll(t, [][]byte{[]byte("a\r\n"), []byte("b\r"), []byte("\n")})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestLineFramer_ReturnedLineIsIndependentOfInput(t *testing.T) {
	f := NewLineFramer()
	chunk := []byte("abc\n")
	_ = f.Feed(chunk)
	chunk[0] = 'X'

	line, _ := f.Next()
	if string(line) != "abc" {
		t.Errorf("line = %q, want %q", line, "abc")
	}
}

func TestLineFramer_ChunkBoundaryIndependence(t *testing.T) {
	stream := []byte(`{"type":"prompt","text":"sys"}` + "\n" +
		`{"type":"content","text":"Hel"}` + "\n" +
		"\n" +
		`{"type":"content","text":"lo ✓"}` + "\n" +
		`{"type":"usage","input_tokens":1,"output_tokens":2}`)

	want := frameAll(t, [][]byte{stream})

	// 2分割のすべての位置
	for i := 0; i <= len(stream); i++ {
		got := frameAll(t, [][]byte{stream[:i], stream[i:]})
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: lines = %v, want %v", i, got, want)
		}
	}

	// 1バイトずつ
	var bytewise [][]byte
	for i := range stream {
		bytewise = append(bytewise, stream[i:i+1])
	}
	if got := frameAll(t, bytewise); !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-wise: lines = %v, want %v", got, want)
	}

	// ランダムな分割
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			size := rng.Intn(len(rest)) + 1
			chunks = append(chunks, rest[:size])
			rest = rest[size:]
		}
		if got := frameAll(t, chunks); !reflect.DeepEqual(got, want) {
			t.Fatalf("random split %d: lines = %v, want %v", n, got, want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Accumulating: "accumulating",
		LineReady:    "line_ready",
		StreamClosed: "stream_closed",
		State(99):    "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
