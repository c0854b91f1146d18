package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes the content-derived unique identifier of a finding: a
// SHA256 hash (64 hex characters) over producer, class, name, location,
// sorted request ids and the ordered attributes.
//
// Detection logic calls this (directly or through NewFinding); the
// aggregation engine only ever reads Finding.UniqueID.
func Fingerprint(f *Finding) string {
	ids := make([]int, len(f.IDs))
	copy(ids, f.IDs)
	sort.Ints(ids)

	idParts := make([]string, len(ids))
	for i, id := range ids {
		idParts[i] = strconv.Itoa(id)
	}

	attrParts := make([]string, 0, f.Attributes.Len())
	for _, item := range f.Attributes.Items() {
		attrParts = append(attrParts, item.Name+"="+string(item.Value.Kind)+":"+item.Value.String())
	}

	data := strings.Join([]string{
		normalize(f.Producer),
		normalize(f.Class),
		f.Name,
		strings.ToUpper(f.Location.Method),
		f.Location.URI,
		strings.Join(idParts, ","),
		strings.Join(attrParts, "&"),
	}, ":")

	return Hash(data)
}

// Hash computes the SHA256 hash of s as 64 hex characters.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
