package tokenizer

import (
	"reflect"
	"slices"
	"testing"

	"kestrel/internal/seqcodec"
	"kestrel/internal/termid"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "hello world", []string{"hello", "world"}},
		{"uppercase converted", "HeLLo WoRLD", []string{"hello", "world"}},
		{"numbers kept", "error 404 not found", []string{"error", "404", "not", "found"}},
		{"hyphen kept in token", "user-agent mozilla", []string{"user-agent", "mozilla"}},
		{"punctuation splits", "kestrel.org/search?q=birds", []string{"kestrel", "org", "search", "q", "birds"}},
		{"utf-8 word whole", "café crème", []string{"café", "crème"}},
		{"lone hyphen skipped", "a - b", []string{"a", "b"}},
		{"uuid skipped", "id 019c0bc0-d19f-77db-bbdf-4c36766e13ca end", []string{"id", "end"}},
		{"empty input", "", nil},
		{"only delimiters", "   ...   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tokens([]byte(tt.input)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokens(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokensTruncated(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	got := Tokens(long)
	if len(got) != 1 || len(got[0]) != DefaultMaxTokenLen {
		t.Errorf("got %d tokens, first of length %d", len(got), len(got[0]))
	}
}

func TestIterTokensPositions(t *testing.T) {
	var got []uint32
	next := IterTokens([]byte("one, two; three"), nil, 0, 10, func(_ []byte, pos uint32) bool {
		got = append(got, pos)
		return true
	})
	if !slices.Equal(got, []uint32{10, 11, 12}) || next != 13 {
		t.Errorf("positions %v next %d", got, next)
	}
}

func TestIterTokensStopsEarly(t *testing.T) {
	var seen int
	IterTokens([]byte("a b c d"), nil, 0, 0, func([]byte, uint32) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Errorf("fn called %d times, want 2", seen)
	}
}

func TestAnalyze(t *testing.T) {
	terms := Analyze(
		Field{Text: "Rare Birds", Flag: FlagTitle},
		Field{Text: "birds.example", Flag: FlagURL},
		Field{Text: "Rare birds of the coast", Flag: FlagBody},
	)
	want := []Term{
		{Text: "rare", Meta: FlagTitle | FlagBody, Positions: []uint32{0, 4}},
		{Text: "birds", Meta: FlagTitle | FlagURL | FlagBody, Positions: []uint32{1, 2, 5}},
		{Text: "example", Meta: FlagURL, Positions: []uint32{3}},
		{Text: "of", Meta: FlagBody, Positions: []uint32{6}},
		{Text: "the", Meta: FlagBody, Positions: []uint32{7}},
		{Text: "coast", Meta: FlagBody, Positions: []uint32{8}},
	}
	if !reflect.DeepEqual(terms, want) {
		t.Errorf("Analyze =\n%+v\nwant\n%+v", terms, want)
	}
}

func TestJournalArgs(t *testing.T) {
	terms := Analyze(Field{Text: "go go gadget", Flag: FlagBody})
	ids, meta, pos, err := JournalArgs(terms)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != termid.Of("go") || meta[1] != FlagBody {
		t.Fatalf("ids=%v meta=%v", ids, meta)
	}
	seq, err := seqcodec.Decode(pos[0])
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(seq.Values(), []uint32{0, 1}) {
		t.Errorf("positions of go = %v", seq.Values())
	}
}

func TestFeatures(t *testing.T) {
	f := Features(Field{Text: "t", Flag: FlagTitle}, Field{Flag: FlagURL}, Field{Text: "b", Flag: FlagBody})
	if f != uint32(FlagTitle|FlagBody) {
		t.Errorf("Features = %b", f)
	}
}
