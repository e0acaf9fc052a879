package store

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	metaKey = "meta"

	filledPrefix = "fs_"
	rootPrefix   = "rt_"
	leafPrefix   = "cm_"
	nfPrefix     = "nf_"
	outputPrefix = "eo_"
	unwrapPrefix = "ub_"
	balanceKey   = "balance"
	unwrapSeqKey = "useq"
)

func filledKey(level int) []byte {
	return []byte(fmt.Sprintf("%s%02d", filledPrefix, level))
}

func rootKey(slot int) []byte {
	return []byte(fmt.Sprintf("%s%05d", rootPrefix, slot))
}

func leafKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", leafPrefix, index))
}

func outputKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outputPrefix, index))
}

func unwrapKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", unwrapPrefix, id))
}

func nullifierKey(nf [32]byte) []byte {
	return []byte(nfPrefix + hex.EncodeToString(nf[:]))
}

func parseIndex(key, prefix string) (uint64, error) {
	if !strings.HasPrefix(key, prefix) {
		return 0, fmt.Errorf("invalid key %q", key)
	}
	return strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 64)
}

func hexNullifier(key string) ([]byte, error) {
	if !strings.HasPrefix(key, nfPrefix) {
		return nil, fmt.Errorf("invalid nullifier key %q", key)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(key, nfPrefix))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid nullifier key %q", key)
	}
	return raw, nil
}
