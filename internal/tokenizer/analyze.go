package tokenizer

import (
	"kestrel/internal/seqcodec"
	"kestrel/internal/termid"
)

// Term metadata flags.
const (
	FlagTitle uint16 = 1 << iota
	FlagURL
	FlagBody
)

// Field is one section of a document and the flag its terms carry.
type Field struct {
	Text string
	Flag uint16
}

// Term is one distinct term of a document.
type Term struct {
	Text      string
	Meta      uint16   // OR of the flags of every field it appears in
	Positions []uint32 // ascending
}

// Analyze tokenizes fields in order and groups the terms. Positions run
// on across fields. Terms are returned in first-occurrence order.
func Analyze(fields ...Field) []Term {
	var terms []Term
	index := map[string]int{}
	buf := make([]byte, 0, DefaultMaxTokenLen)
	var pos uint32
	for _, f := range fields {
		pos = IterTokens([]byte(f.Text), buf, DefaultMaxTokenLen, pos, func(tok []byte, p uint32) bool {
			i, ok := index[string(tok)]
			if !ok {
				i = len(terms)
				index[string(tok)] = i
				terms = append(terms, Term{Text: string(tok)})
			}
			terms[i].Meta |= f.Flag
			terms[i].Positions = append(terms[i].Positions, p)
			return true
		})
	}
	return terms
}

// JournalArgs converts terms into the parallel slices journal.Writer.Append
// takes.
func JournalArgs(terms []Term) ([]termid.ID, []uint16, [][]byte, error) {
	ids := make([]termid.ID, len(terms))
	meta := make([]uint16, len(terms))
	pos := make([][]byte, len(terms))
	for i, t := range terms {
		enc, err := seqcodec.Encode(t.Positions)
		if err != nil {
			return nil, nil, nil, err
		}
		ids[i] = termid.Of(t.Text)
		meta[i] = t.Meta
		pos[i] = enc
	}
	return ids, meta, pos, nil
}

// Features summarizes which fields a document has, for journal.Header.
func Features(fields ...Field) uint32 {
	var f uint32
	for _, fl := range fields {
		if fl.Text != "" {
			f |= uint32(fl.Flag)
		}
	}
	return f
}
