package backfill

import (
	"context"
	"iter"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/repository"
)

func benchSessions(n int) iter.Seq2[*repository.Session, error] {
	return func(yield func(*repository.Session, error) bool) {
		for i := 0; i < n; i++ {
			s := &repository.Session{UUID: uuid.New(), SessionKey: "sess-" + strconv.Itoa(i)}
			if !yield(s, nil) {
				return
			}
		}
	}
}

func BenchmarkSHA256Hex(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = SHA256Hex("0123456789abcdefghijklmnopqrstuv")
	}
}

func BenchmarkBuildIndex_10k(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = BuildIndex(benchSessions(10_000), nil)
	}
}

type discardWriter struct{}

func (discardWriter) SetSession(context.Context, int64, uuid.UUID) error { return nil }

func BenchmarkResolvePersist_10k(b *testing.B) {
	index, _, err := BuildIndex(benchSessions(10_000), nil)
	if err != nil {
		b.Fatal(err)
	}

	tokens := make([]*repository.Token, 0, 10_000)
	for i := 0; i < 10_000; i++ {
		digest, _ := SHA256Hex("sess-" + strconv.Itoa(i*2))
		tokens = append(tokens, &repository.Token{ID: int64(i + 1), LegacySessionID: &digest})
	}
	rows := func(yield func(*repository.Token, error) bool) {
		for _, t := range tokens {
			if !yield(t, nil) {
				return
			}
		}
	}
	lookup := func(_ context.Context, key string) (*repository.Session, error) {
		return &repository.Session{UUID: uuid.Nil, SessionKey: key}, nil
	}

	ctx := context.Background()
	logger := zap.NewNop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Persist(ctx, "access_tokens", Resolve(ctx, rows, index, lookup), discardWriter{}, ContinueOnError, logger)
	}
}
