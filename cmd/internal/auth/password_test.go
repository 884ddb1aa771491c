package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Small params keep the test fast; production defaults are much heavier.
var testParams = Argon2idParams{
	MemoryKiB:   8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	enc, err := HashPassword("correct horse battery", testParams)
	req.NoError(err)
	req.True(strings.HasPrefix(enc, "$argon2id$v=19$"))

	ok, err := VerifyPassword(enc, "correct horse battery")
	req.NoError(err)
	req.True(ok)

	ok, err = VerifyPassword(enc, "wrong password!!")
	req.NoError(err)
	req.False(ok)
}

func TestHashPasswordTooShort(t *testing.T) {
	t.Parallel()
	_, err := HashPassword("short", testParams)
	require.Error(t, err)
}

func TestVerifyPasswordMalformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	}
	for _, enc := range cases {
		_, err := VerifyPassword(enc, "whatever12345")
		require.ErrorIs(t, err, ErrInvalidHash, "hash %q", enc)
	}
}
