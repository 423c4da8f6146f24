package taskproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelopes(t *testing.T, buf *bytes.Buffer) []envelope {
	t.Helper()

	var envs []envelope
	dec := json.NewDecoder(buf)
	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			return envs
		}
		envs = append(envs, env)
	}
}

func TestDriveGeneratorSendsItemsInOrder(t *testing.T) {
	var buf bytes.Buffer
	var flag atomic.Bool

	gen := func(ctx context.Context, args json.RawMessage, yield func(v any) error) error {
		for i := 1; i <= 3; i++ {
			if err := yield(i); err != nil {
				return err
			}
		}
		return nil
	}

	err := driveGenerator(context.Background(), gen, nil, &flag, json.NewEncoder(&buf))
	require.NoError(t, err)

	envs := decodeEnvelopes(t, &buf)
	require.Len(t, envs, 3)
	for i, env := range envs {
		assert.Equal(t, kindItem, env.Kind)
		assert.JSONEq(t, strconv.Itoa(i+1), string(env.Payload))
	}
}

func TestDriveGeneratorChecksFlagBeforeEachItem(t *testing.T) {
	var buf bytes.Buffer
	var flag atomic.Bool

	gen := func(ctx context.Context, args json.RawMessage, yield func(v any) error) error {
		if err := yield("first"); err != nil {
			return err
		}
		// Flag raised mid-production: the next yield must abort before
		// sending.
		flag.Store(true)
		return yield("second")
	}

	err := driveGenerator(context.Background(), gen, nil, &flag, json.NewEncoder(&buf))
	require.ErrorIs(t, err, ErrEarlyCancellation)

	envs := decodeEnvelopes(t, &buf)
	require.Len(t, envs, 1, "the item yielded after cancellation must not be sent")
}

func TestIsCancellationClassification(t *testing.T) {
	var flag atomic.Bool

	assert.True(t, isCancellation(ErrEarlyCancellation, &flag))
	assert.False(t, isCancellation(errors.New("boom"), &flag))
	assert.False(t, isCancellation(context.Canceled, &flag),
		"a context error without the flag is a failure, not a cancellation")

	flag.Store(true)
	assert.True(t, isCancellation(context.Canceled, &flag))
	assert.False(t, isCancellation(errors.New("boom"), &flag))
}
