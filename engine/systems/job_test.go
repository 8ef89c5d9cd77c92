package systems

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem("none", 0, metadata.JOB_TYPE_GENERAL)
	assert.ErrorIs(t, err, ErrNoWorkers)

	_, err = NewJobSystem("gpu", 1, metadata.JOB_TYPE_GPU_RESOURCE)
	assert.ErrorIs(t, err, ErrJobType)
}

func TestJobSystemRunsEveryJob(t *testing.T) {
	js, err := NewJobSystem("general", 4, metadata.JOB_TYPE_GENERAL)
	require.NoError(t, err)

	var ok, failed atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 100; i++ {
		fail := i%10 == 0
		require.NoError(t, js.Submit(metadata.JobTask{
			Type: metadata.JOB_TYPE_GENERAL,
			OnStart: func() error {
				if fail {
					return boom
				}
				return nil
			},
			OnComplete: func() { ok.Add(1) },
			OnFailure: func(err error) {
				assert.ErrorIs(t, err, boom)
				failed.Add(1)
			},
		}))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, js.Run(context.Background()))
	}()
	js.Shutdown()
	wg.Wait()

	assert.Equal(t, int32(90), ok.Load())
	assert.Equal(t, int32(10), failed.Load())
	assert.Equal(t, 0, js.Pending())
	assert.ErrorIs(t, js.Submit(metadata.JobTask{Type: metadata.JOB_TYPE_GENERAL, OnStart: func() error { return nil }}), core.ErrEngineStopped)
}

func TestJobSystemTypeMask(t *testing.T) {
	js, err := NewJobSystem("load", 1, metadata.JOB_TYPE_RESOURCE_LOAD)
	require.NoError(t, err)
	err = js.Submit(metadata.JobTask{Type: metadata.JOB_TYPE_GENERAL, OnStart: func() error { return nil }})
	assert.ErrorIs(t, err, ErrJobType)
	js.Shutdown()
}
