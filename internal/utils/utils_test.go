package utils

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cretpass", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cretpass", hash)
	assert.True(t, CheckPassword(hash, "s3cretpass"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidateUserName("alice_01"))
	assert.False(t, ValidateUserName("al"))
	assert.False(t, ValidateUserName("bad name"))

	assert.True(t, ValidateEmail("a.b@example.org"))
	assert.False(t, ValidateEmail("not-an-email"))

	assert.True(t, ValidatePassword("abcdefg1"))
	assert.False(t, ValidatePassword("abcdefgh"))
	assert.False(t, ValidatePassword("1234567"))
	assert.False(t, ValidatePassword(strings.Repeat("a1", 40)))
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\report.pdf`, "report.pdf"},
		{"in\"jection;.txt", "in_jection_.txt"},
		{"line\r\nbreak.png", "linebreak.png"},
		{"...", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFileName(tt.in, "upload"), tt.in)
	}
	assert.LessOrEqual(t, len(SanitizeFileName(strings.Repeat("é", 300), "x")), 255)
}

func TestRandomString_Property(t *testing.T) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		s, err := RandomString(alphabet, n)
		if err != nil {
			t.Fatal(err)
		}
		if len(s) != n {
			t.Fatalf("length %d, want %d", len(s), n)
		}
		for _, r := range s {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("symbol %q outside alphabet", r)
			}
		}
	})
}

func TestRandomString_Invalid(t *testing.T) {
	_, err := RandomString("A", 8)
	assert.Error(t, err)
	_, err = RandomString("AB", 0)
	assert.Error(t, err)
}

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(48)
	require.NoError(t, err)
	assert.Len(t, tok, 64)
	assert.NotContains(t, tok, "=")

	other, err := RandomToken(48)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	assert.Equal(t, TokenDigest(tok), TokenDigest(tok))
	assert.NotEqual(t, TokenDigest(tok), TokenDigest(other))
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(3, 4, zap.NewNop())
	pool.Start()

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
			done.Add(1)
		}))
	}
	// a panicking job must not take the worker down
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))

	pool.Stop()
	assert.EqualValues(t, 20, done.Load())
	assert.ErrorIs(t, pool.Submit(context.Background(), func(context.Context) {}), ErrPoolClosed)
}

func TestWorkerPool_SubmitHonoursContext(t *testing.T) {
	pool := NewWorkerPool(1, 0, zap.NewNop())
	// not started: nothing drains the unbuffered queue
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
