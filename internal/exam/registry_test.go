package exam

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/hybridexam/internal/model"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(&fakeExaminer{}, &fakeCoach{}, Options{})

	a := r.Create(1)
	b := r.Create(2)
	require.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	assert.Len(t, r.ForTeam(1), 1)
	assert.Empty(t, r.ForTeam(3))

	r.Remove(a.ID())
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	r.Remove("missing")
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySessionsAreIndependent(t *testing.T) {
	ex := &fakeExaminer{}
	for i := 0; i < 16; i++ {
		ex.then("Welcome", "Q1", false)
	}
	r := NewRegistry(ex, &fakeCoach{}, Options{})

	var wg sync.WaitGroup
	ctrls := make([]*Controller, 16)
	for i := range ctrls {
		ctrls[i] = r.Create(int64(i))
	}
	for _, c := range ctrls {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			_ = c.Start(context.Background())
		}(c)
	}
	wg.Wait()

	for _, c := range ctrls {
		assert.Equal(t, model.StateActive, c.State())
	}
	assert.Equal(t, 16, ex.callCount())
}

func TestTranscriptReturnsCopies(t *testing.T) {
	var tr Transcript
	tr.Append(model.Turn{Role: model.RoleTeam, Text: "a"})
	turns := tr.Turns()
	turns[0].Text = "mutated"

	assert.Equal(t, "a", tr.Turns()[0].Text)
	assert.Equal(t, 1, tr.Len())
	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}
