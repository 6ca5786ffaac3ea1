package serialize

import (
	"encoding/binary"
)

// All integers are big endian. Byte slices carry a uint32 length prefix.

const lengthPrefixSize = 4

func ByteSizeBytes(data []byte) int {
	return lengthPrefixSize + len(data)
}

func SerializeBytes(writer *FixedSizeWriter, data []byte) {
	SerializeUInt32(writer, uint32(len(data)))
	copy(writer.Next(len(data)), data)
}

// DeserializeBytes copies the bytes out of the reader's buffer.
func DeserializeBytes(data *[]byte, reader *Reader) error {
	var length uint32
	if err := DeserializeUInt32(&length, reader); err != nil {
		return err
	}
	bs, err := reader.Read(int(length))
	if err != nil {
		return err
	}
	*data = append([]byte(nil), bs...)
	return nil
}

func ByteSizeUInt8(uint8) int {
	return 1
}

func SerializeUInt8(writer *FixedSizeWriter, data uint8) {
	writer.Next(1)[0] = data
}

func DeserializeUInt8(data *uint8, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	*data = bs[0]
	return nil
}

func SerializeUInt32(writer *FixedSizeWriter, data uint32) {
	binary.BigEndian.PutUint32(writer.Next(4), data)
}

func DeserializeUInt32(data *uint32, reader *Reader) error {
	bs, err := reader.Read(4)
	if err != nil {
		return err
	}
	*data = binary.BigEndian.Uint32(bs)
	return nil
}

func ByteSizeUInt64(uint64) int {
	return 8
}

func SerializeUInt64(writer *FixedSizeWriter, data uint64) {
	binary.BigEndian.PutUint64(writer.Next(8), data)
}

func DeserializeUInt64(data *uint64, reader *Reader) error {
	bs, err := reader.Read(8)
	if err != nil {
		return err
	}
	*data = binary.BigEndian.Uint64(bs)
	return nil
}

func ByteSizeInt32(int32) int {
	return 4
}

// SerializeInt32 writes the two's complement bits of data.
func SerializeInt32(writer *FixedSizeWriter, data int32) {
	SerializeUInt32(writer, uint32(data))
}

func DeserializeInt32(data *int32, reader *Reader) error {
	var v uint32
	if err := DeserializeUInt32(&v, reader); err != nil {
		return err
	}
	*data = int32(v)
	return nil
}
