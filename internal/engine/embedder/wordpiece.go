package embedder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxSeqLen     = 128
	maxWordLength = 200
)

// vocab maps WordPiece tokens to their line index in vocab.txt.
type vocab struct {
	ids map[string]int64
	pad int64
	unk int64
	cls int64
	sep int64
}

func loadVocab(path string) (*vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()
	return readVocab(f)
}

func readVocab(r io.Reader) (*vocab, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		tokens = append(tokens, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read: %w", err)
	}
	return newVocab(tokens)
}

func newVocab(tokens []string) (*vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: empty")
	}
	v := &vocab{ids: make(map[string]int64, len(tokens))}
	for i, tok := range tokens {
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = int64(i)
		}
	}
	for name, dst := range map[string]*int64{
		"[PAD]": &v.pad, "[UNK]": &v.unk, "[CLS]": &v.cls, "[SEP]": &v.sep,
	} {
		id, ok := v.ids[name]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", name)
		}
		*dst = id
	}
	return v, nil
}

func (v *vocab) id(tok string) int64 {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.unk
}

func (v *vocab) has(tok string) bool {
	_, ok := v.ids[tok]
	return ok
}

func (v *vocab) size() int { return len(v.ids) }

// encodedBatch is a row-major [rows x width] set of model inputs.
type encodedBatch struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	rows          int64
	width         int64
}

// wordPiece is an uncased BERT tokenizer.
type wordPiece struct {
	vocab *vocab
}

func newWordPiece(vocabPath string) (*wordPiece, error) {
	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return &wordPiece{vocab: v}, nil
}

// encode returns [CLS] ids... [SEP] for text, truncated to maxSeqLen.
func (w *wordPiece) encode(text string) []int64 {
	pieces := w.split(text)
	if len(pieces) > maxSeqLen-2 {
		pieces = pieces[:maxSeqLen-2]
	}
	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, w.vocab.cls)
	for _, p := range pieces {
		ids = append(ids, w.vocab.id(p))
	}
	return append(ids, w.vocab.sep)
}

// encodeBatch pads every row to the longest encoded text.
func (w *wordPiece) encodeBatch(texts []string) encodedBatch {
	if len(texts) == 0 {
		return encodedBatch{}
	}
	rows := make([][]int64, len(texts))
	width := 0
	for i, text := range texts {
		rows[i] = w.encode(text)
		width = max(width, len(rows[i]))
	}

	n := len(texts) * width
	b := encodedBatch{
		inputIDs:      make([]int64, n),
		attentionMask: make([]int64, n),
		tokenTypeIDs:  make([]int64, n),
		rows:          int64(len(texts)),
		width:         int64(width),
	}
	for i, ids := range rows {
		off := i * width
		for j, id := range ids {
			b.inputIDs[off+j] = id
			b.attentionMask[off+j] = 1
		}
		for j := len(ids); j < width; j++ {
			b.inputIDs[off+j] = w.vocab.pad
		}
	}
	return b
}

// split runs basic tokenization followed by greedy longest-match WordPiece.
func (w *wordPiece) split(text string) []string {
	var out []string
	for _, word := range basicTokens(text) {
		out = append(out, w.subwords(word)...)
	}
	return out
}

func (w *wordPiece) subwords(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordLength {
		return []string{"[UNK]"}
	}
	var out []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var match string
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = "##" + cand
			}
			if w.vocab.has(cand) {
				match = cand
				break
			}
		}
		if match == "" {
			return []string{"[UNK]"}
		}
		out = append(out, match)
		start = end
	}
	return out
}

// basicTokens cleans, lowercases and strips accents from text, then splits
// on whitespace, punctuation and CJK ideographs.
func basicTokens(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == utf8Replacement || isControl(r):
		case isWhitespace(r):
			b.WriteByte(' ')
		case isCJK(r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	folded := stripAccents(strings.ToLower(b.String()))

	var tokens []string
	for _, field := range strings.Fields(folded) {
		cur := 0
		for i, r := range field {
			if !isPunctuation(r) {
				continue
			}
			if i > cur {
				tokens = append(tokens, field[cur:i])
			}
			size := len(string(r))
			tokens = append(tokens, field[i:i+size])
			cur = i + size
		}
		if cur < len(field) {
			tokens = append(tokens, field[cur:])
		}
	}
	return tokens
}

const utf8Replacement = '\uFFFD'

func stripAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}

// isPunctuation treats every non-alphanumeric ASCII symbol as punctuation,
// plus the Unicode P categories.
func isPunctuation(r rune) bool {
	if r < 128 {
		return r > ' ' && r != 127 && !('0' <= r && r <= '9') && !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z')
	}
	return unicode.IsPunct(r)
}

var cjkRanges = [][2]rune{
	{0x4E00, 0x9FFF}, {0x3400, 0x4DBF}, {0x20000, 0x2A6DF}, {0x2A700, 0x2B73F},
	{0x2B740, 0x2B81F}, {0x2B820, 0x2CEAF}, {0xF900, 0xFAFF}, {0x2F800, 0x2FA1F},
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}
