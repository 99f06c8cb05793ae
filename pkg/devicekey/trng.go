package devicekey

import (
	"io"

	ctrdrbg "github.com/sixafter/aes-ctr-drbg"
)

// softwareTRNG is the default TRNG: an AES-CTR DRBG seeded from the OS CSPRNG,
// used when no hardware entropy source is wired in via WithTRNG. This is the
// software fallback spec.md §3 allows alongside a hardware TRNG.
type softwareTRNG struct {
	reader io.Reader
}

// NewSoftwareTRNG constructs the default TRNG backed by an AES-256-CTR DRBG.
func NewSoftwareTRNG() TRNG {
	r, err := ctrdrbg.NewReader(ctrdrbg.WithKeySize(ctrdrbg.KeySize256))
	if err != nil {
		// NewReader only fails on invalid Config values, which WithKeySize(256)
		// never produces; falling back to a panic would be worse than a reader
		// that surfaces the same error on first Read.
		return &softwareTRNG{reader: errReader{err}}
	}
	return &softwareTRNG{reader: r}
}

func (s *softwareTRNG) Read(buf []byte) error {
	_, err := io.ReadFull(s.reader, buf)
	return err
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
