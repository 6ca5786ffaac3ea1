package serialize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeBytes(t *testing.T) {

	input := []byte(`{"value":"x"}`)

	writer := NewFixedSizeWriter(ByteSizeBytes(input))
	SerializeBytes(writer, input)

	data := writer.Bytes()
	reader := NewReader(data)

	var output []byte
	err := DeserializeBytes(&output, reader)
	require.NoError(t, err)

	assert.Equal(t, input, output)
	assert.Equal(t, 0, reader.Remaining())

	// the result does not alias the input buffer
	data[len(data)-1] = '!'
	assert.Equal(t, input, output)
}

func TestSerializeIntegers(t *testing.T) {

	size := ByteSizeUInt8(0) +
		ByteSizeUInt64(0) +
		ByteSizeInt32(0)

	writer := NewFixedSizeWriter(size)
	SerializeUInt8(writer, math.MaxUint8)
	SerializeUInt64(writer, math.MaxUint64-1)
	SerializeInt32(writer, -1)

	reader := NewReader(writer.Bytes())

	var u8 uint8
	var u64 uint64
	var i32 int32

	require.NoError(t, DeserializeUInt8(&u8, reader))
	require.NoError(t, DeserializeUInt64(&u64, reader))
	require.NoError(t, DeserializeInt32(&i32, reader))

	assert.Equal(t, uint8(math.MaxUint8), u8)
	assert.Equal(t, uint64(math.MaxUint64-1), u64)
	assert.Equal(t, int32(-1), i32)
}

func TestSerializeBigEndian(t *testing.T) {
	writer := NewFixedSizeWriter(ByteSizeBytes([]byte{7}))
	SerializeBytes(writer, []byte{7})
	assert.Equal(t, []byte{0, 0, 0, 1, 7}, writer.Bytes())
}

func TestReaderShortRead(t *testing.T) {
	reader := NewReader([]byte{0, 1})

	var u64 uint64
	err := DeserializeUInt64(&u64, reader)
	assert.Error(t, err)

	var bs []byte
	reader = NewReader([]byte{0, 0, 0, 9, 'a'})
	err = DeserializeBytes(&bs, reader)
	assert.Error(t, err)
}

func TestWriterPanicsOnOverflow(t *testing.T) {
	writer := NewFixedSizeWriter(1)
	assert.Panics(t, func() {
		SerializeInt32(writer, 1)
	})

	writer = NewFixedSizeWriter(2)
	SerializeUInt8(writer, 1)
	assert.Panics(t, func() {
		writer.Bytes()
	})
}
