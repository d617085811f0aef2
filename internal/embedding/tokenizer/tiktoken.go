package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding matches the encoding the catalog index was built with.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Tiktoken tokenizes with an OpenAI BPE encoding. BPE ranks are loaded from
// the embedded offline loader so tokenization never touches the network.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (cl100k_base when empty).
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

// Version identifies the tokenizer and encoding.
func (t *Tiktoken) Version() string { return "tiktoken-" + t.encoding }

// Encode tokenizes text. Text containing special tokens such as
// <|endoftext|> is rejected, as the upstream encoder does by default.
func (t *Tiktoken) Encode(text string) (ids []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids = nil
			err = fmt.Errorf("tiktoken: %v", r)
		}
	}()
	return t.enc.Encode(text, nil, []string{"all"}), nil
}
