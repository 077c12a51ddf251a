// Package pair canonicalises an unordered pair of emoji tokens so that
// (a, b) and (b, a) index and query the same row.
package pair

// Key is the canonical form of an unordered pair: Lo <= Hi byte-wise.
type Key struct {
	Lo string
	Hi string
}

// Normalize orders a and b lexicographically by bytes.
func Normalize(a, b string) (lo, hi string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Of returns the Key for the unordered pair {a, b}.
func Of(a, b string) Key {
	lo, hi := Normalize(a, b)
	return Key{Lo: lo, Hi: hi}
}

// String renders the key as "lo_hi".
func (k Key) String() string {
	return k.Lo + "_" + k.Hi
}
