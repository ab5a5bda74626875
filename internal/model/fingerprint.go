package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
)

// Hasher builds SHA-256 fingerprints over length-prefixed fields so that
// ("ab","c") and ("a","bc") never collide.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a fingerprint in the given domain, e.g. "plan" or "candidate".
func NewHasher(domain string) *Hasher {
	f := &Hasher{h: sha256.New()}
	return f.String(domain)
}

func (f *Hasher) String(s string) *Hasher {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	f.h.Write(n[:])
	f.h.Write([]byte(s))
	return f
}

func (f *Hasher) Int(v int64) *Hasher {
	return f.String(strconv.FormatInt(v, 10))
}

func (f *Hasher) Bool(v bool) *Hasher {
	return f.String(strconv.FormatBool(v))
}

// Strings writes the count followed by each element in the given order.
func (f *Hasher) Strings(ss []string) *Hasher {
	f.Int(int64(len(ss)))
	for _, s := range ss {
		f.String(s)
	}
	return f
}

func (f *Hasher) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

const missingField = "\x00missing"

// FieldFingerprint hashes the values of the required fields. Missing fields hash
// to a sentinel so that supplying one later changes the fingerprint.
func FieldFingerprint(required []string, fields map[string]string) string {
	names := append([]string(nil), required...)
	sort.Strings(names)
	h := NewHasher("fields").Int(int64(len(names)))
	for _, name := range names {
		v, ok := fields[name]
		if !ok {
			v = missingField
		}
		h.String(name).String(v)
	}
	return h.Sum()
}

// MissingFields returns the required names without a non-empty value, ascending.
func MissingFields(required []string, fields map[string]string) []string {
	var out []string
	for _, name := range required {
		if fields[name] == "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
