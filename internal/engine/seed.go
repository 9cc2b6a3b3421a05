package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// SeedSource picks seeds for requests that do not carry one.
type SeedSource interface {
	Seed() (int64, error)
}

// CryptoSeeds draws two bytes from crypto/rand, giving seeds in [0, 65535].
type CryptoSeeds struct{}

func (CryptoSeeds) Seed() (int64, error) { return readSeed(rand.Reader) }

// SeedsFromReader draws seeds from r, two big-endian bytes at a time.
func SeedsFromReader(r io.Reader) SeedSource { return readerSeeds{r: r} }

type readerSeeds struct{ r io.Reader }

func (s readerSeeds) Seed() (int64, error) { return readSeed(s.r) }

func readSeed(r io.Reader) (int64, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	return int64(binary.BigEndian.Uint16(b[:])), nil
}
