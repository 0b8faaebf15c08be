package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

const (
	// Magic bytes to identify a compressed snapshot envelope
	MagicBytes = "GODB"
	// Current envelope version
	FormatVersion = 1

	// ManifestFile is the manifest file name inside the database root
	ManifestFile = ".manifest"
	// CollectionsDir holds one snapshot file per collection
	CollectionsDir = "collections"
	// FileExtension is the extension of collection snapshot files
	FileExtension = ".collection"
)

// CollectionStore is the on-disk snapshot of a collection.
type CollectionStore struct {
	Name    string            `msgpack:"name"`
	Data    []domain.Document `msgpack:"data"`
	SavedAt uint64            `msgpack:"savedAt"`
}

// Manifest is the on-disk index of the collections in a database root.
type Manifest struct {
	SavedAt     uint64   `msgpack:"savedAt"`
	Collections []string `msgpack:"collections"`
}

// FileHeader precedes the payload of a compressed snapshot file. Plain
// snapshots are written without a header.
type FileHeader struct {
	Magic    [4]byte // "GODB"
	Version  uint8   // Format version
	Codec    uint8   // Compression of the payload
	Reserved [2]byte // Reserved for future use
	Checksum uint64  // xxh3 of the compressed payload
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, codec Compression, checksum uint64) error {
	header := FileHeader{
		Magic:    [4]byte{'G', 'O', 'D', 'B'},
		Version:  FormatVersion,
		Codec:    uint8(codec),
		Checksum: checksum,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// hasEnvelope reports whether data starts with the envelope magic. A plain
// snapshot always starts with a msgpack map marker, never with 'G'.
func hasEnvelope(data []byte) bool {
	return len(data) >= len(MagicBytes) && string(data[:len(MagicBytes)]) == MagicBytes
}

// wrapPayload frames an encoded snapshot for disk. CompressionNone returns
// the payload unchanged.
func wrapPayload(payload []byte, codec Compression) ([]byte, error) {
	if codec == CompressionNone {
		return payload, nil
	}
	compressed, err := Compress(codec, payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, codec, xxh3.Hash(compressed)); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// unwrapPayload is the inverse of wrapPayload. Files without an envelope are
// returned as is.
func unwrapPayload(data []byte) ([]byte, error) {
	if !hasEnvelope(data) {
		return data, nil
	}
	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, err
	}
	compressed := data[len(data)-reader.Len():]
	if sum := xxh3.Hash(compressed); sum != header.Checksum {
		return nil, fmt.Errorf("checksum mismatch: header %016x, payload %016x", header.Checksum, sum)
	}
	return Decompress(Compression(header.Codec), compressed)
}

// EncodeCollectionStore encodes a collection snapshot. Map keys are sorted so
// equal snapshots encode to equal bytes.
func EncodeCollectionStore(store *CollectionStore) ([]byte, error) {
	return encode(store)
}

// DecodeCollectionStore decodes a collection snapshot.
func DecodeCollectionStore(data []byte) (*CollectionStore, error) {
	var store CollectionStore
	if err := decode(data, &store); err != nil {
		return nil, err
	}
	for _, doc := range store.Data {
		domain.NormalizeDocument(doc)
	}
	return &store, nil
}

// EncodeManifest encodes a manifest.
func EncodeManifest(manifest *Manifest) ([]byte, error) {
	return encode(manifest)
}

// DecodeManifest decodes a manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := decode(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return nil
}

func epochMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
