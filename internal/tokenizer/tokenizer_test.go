package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForModel(t *testing.T) {
	fam, err := ForModel("llama-2-7b-chat-slice")
	require.NoError(t, err)
	assert.Equal(t, "llama", fam.Name)
	assert.Equal(t, "[INST]", fam.Delims.BInst)
	assert.Equal(t, 2, fam.StructuralEventDiscount)
	assert.Contains(t, fam.ReservedMarkers, "<<SYS>>")

	_, err = ForModel("mistral-7b")
	assert.True(t, errors.Is(err, ErrNotSupported))
}

func TestByteTokenizerRoundTrip(t *testing.T) {
	enc := ByteTokenizer{}
	tokens := enc.Encode("hello, world", true, true)
	require.Equal(t, byteTokenBOS, tokens[0])
	require.Equal(t, byteTokenEOS, tokens[len(tokens)-1])
	assert.Equal(t, "hello, world", enc.Decode(tokens))
}

func TestByteTokenizerEncodeLength(t *testing.T) {
	enc := ByteTokenizer{}
	assert.Len(t, enc.Encode("abc", false, false), 3)
	assert.Len(t, enc.Encode("abc", true, false), 4)
	assert.Len(t, enc.Encode("", true, true), 2)
}

func TestEOSTokenOutsideByteRange(t *testing.T) {
	enc := ByteTokenizer{}
	eos := enc.EOSToken()
	assert.GreaterOrEqual(t, eos, 256)
	assert.Empty(t, enc.Decode([]int{eos}))
}
