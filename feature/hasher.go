package feature

// Hasher folds tokens into term ids in [0, Range()).
//
// The hash is a djb variant (h = (h<<5) ^ (h>>2) ^ c) reduced modulo a prime.
// The requested range is promoted to the next prime at construction so the
// modulus distributes well; the effective feature-space size is therefore
// Range(), not the requested value. A store records the effective range and
// models trained against a different range are rejected at load time.
type Hasher struct {
	mod uint32
}

// DefaultRange is the default feature-space size before prime promotion.
const DefaultRange = 1 << 20

// NewHasher creates a Hasher over at least rangeSize dimensions.
func NewHasher(rangeSize uint32) *Hasher {
	mod := rangeSize
	if mod < 2 {
		mod = 2
	}
	if mod%2 == 0 {
		mod++
	}
	for !isPrime(uint64(mod)) {
		mod += 2
	}
	return &Hasher{mod: mod}
}

// Range returns the effective feature-space size (a prime >= the requested
// range).
func (h *Hasher) Range() uint32 {
	return h.mod
}

// Sum hashes a token into [0, Range()).
func (h *Hasher) Sum(token string) uint32 {
	var sum uint64 = 5381
	for i := 0; i < len(token); i++ {
		sum = (sum << 5) ^ (sum >> 2) ^ uint64(token[i])
	}
	return uint32(sum % uint64(h.mod))
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}
