package tokenizer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HuggingFace tokenizes with a tokenizer.json file. The version includes a
// content hash of the file so a changed vocabulary is never mistaken for the
// one an index was built with.
type HuggingFace struct {
	tk      *tokenizer.Tokenizer
	version string
}

// NewHuggingFace loads a tokenizer.json from path.
func NewHuggingFace(path string) (*HuggingFace, error) {
	sum, err := fileDigest(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer file: %w", err)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HuggingFace{
		tk:      tk,
		version: fmt.Sprintf("hf-%s-%s", filepath.Base(path), sum),
	}, nil
}

// Version identifies the tokenizer file.
func (h *HuggingFace) Version() string { return h.version }

// Encode tokenizes text without adding special tokens.
func (h *HuggingFace) Encode(text string) ([]int, error) {
	en, err := h.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	return en.Ids, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:6]), nil
}
