package embedder

import (
	"reflect"
	"strings"
	"testing"
)

var testTokens = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"hello", "world", "connection", "time", "##out", "db", "-", "primary",
	",", ":", ".", "cafe", "resume",
}

func testWordPiece(t *testing.T) *wordPiece {
	t.Helper()
	v, err := newVocab(testTokens)
	if err != nil {
		t.Fatalf("newVocab: %v", err)
	}
	return &wordPiece{vocab: v}
}

func TestReadVocab(t *testing.T) {
	v, err := readVocab(strings.NewReader(strings.Join(testTokens, "\n")))
	if err != nil {
		t.Fatalf("readVocab: %v", err)
	}
	if v.size() != len(testTokens) {
		t.Errorf("size = %d, want %d", v.size(), len(testTokens))
	}
	if v.pad != 0 || v.unk != 1 || v.cls != 2 || v.sep != 3 {
		t.Errorf("specials = %d/%d/%d/%d, want 0/1/2/3", v.pad, v.unk, v.cls, v.sep)
	}
	if v.id("nope") != v.unk {
		t.Errorf("unknown token should map to [UNK]")
	}
}

func TestNewVocabMissingSpecial(t *testing.T) {
	if _, err := newVocab([]string{"[PAD]", "[UNK]", "[CLS]"}); err == nil {
		t.Fatal("expected error for vocab without [SEP]")
	}
	if _, err := newVocab(nil); err == nil {
		t.Fatal("expected error for empty vocab")
	}
}

func TestEncode(t *testing.T) {
	wp := testWordPiece(t)
	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"empty", "", []int64{2, 3}},
		{"lowercased", "Hello WORLD", []int64{2, 4, 5, 3}},
		{"subwords", "timeout", []int64{2, 7, 8, 3}},
		{"punctuation split", "db-primary, timeout.", []int64{2, 9, 10, 11, 12, 7, 8, 14, 3}},
		{"accents stripped", "café résumé", []int64{2, 15, 16, 3}},
		{"unknown word", "hello zebra", []int64{2, 4, 1, 3}},
		{"control chars dropped", "hello\x00\x07world", []int64{2, 1, 3}},
		{"cjk split", "你好", []int64{2, 1, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wp.encode(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("encode(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEncodeTruncates(t *testing.T) {
	wp := testWordPiece(t)
	ids := wp.encode(strings.Repeat("hello ", 300))
	if len(ids) != maxSeqLen {
		t.Fatalf("len = %d, want %d", len(ids), maxSeqLen)
	}
	if ids[0] != 2 || ids[maxSeqLen-1] != 3 {
		t.Errorf("expected [CLS] ... [SEP], got %d ... %d", ids[0], ids[maxSeqLen-1])
	}
}

func TestEncodeBatch(t *testing.T) {
	wp := testWordPiece(t)
	b := wp.encodeBatch([]string{"hello world", "timeout"})

	if b.rows != 2 || b.width != 4 {
		t.Fatalf("shape = %dx%d, want 2x4", b.rows, b.width)
	}
	wantIDs := []int64{2, 4, 5, 3, 2, 7, 8, 3}
	if !reflect.DeepEqual(b.inputIDs, wantIDs) {
		t.Errorf("inputIDs = %v, want %v", b.inputIDs, wantIDs)
	}

	b = wp.encodeBatch([]string{"hello world", ""})
	wantMask := []int64{1, 1, 1, 1, 1, 1, 0, 0}
	if !reflect.DeepEqual(b.attentionMask, wantMask) {
		t.Errorf("attentionMask = %v, want %v", b.attentionMask, wantMask)
	}
	for i, v := range b.tokenTypeIDs {
		if v != 0 {
			t.Errorf("tokenTypeIDs[%d] = %d, want 0", i, v)
		}
	}

	if empty := wp.encodeBatch(nil); empty.rows != 0 {
		t.Errorf("empty batch rows = %d, want 0", empty.rows)
	}
}
