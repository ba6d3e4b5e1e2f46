// ABOUTME: Tests for the metadata refresher
// ABOUTME: Covers change detection, failure accounting, overlap protection and scheduling

package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	infos map[string]*extension.Info
	errs  map[string]error
	calls int
	block chan struct{}
}

func (f *fakeFetcher) Info(ctx context.Context, baseURL string) (*extension.Info, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err := f.errs[baseURL]; err != nil {
		return nil, err
	}
	return f.infos[baseURL], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seed(t *testing.T, s *store.MockStore, name, version string) {
	t.Helper()
	_, err := s.UpsertExtension(context.Background(), &store.Extension{
		Name:        name,
		URL:         "http://" + name,
		Title:       name,
		Description: "desc",
		Version:     version,
	})
	require.NoError(t, err)
}

func TestRunOnce(t *testing.T) {
	s := store.NewMockStore()
	seed(t, s, "calc", "1.0.0")
	seed(t, s, "notes", "2.0.0")
	seed(t, s, "broken", "0.1.0")

	fetcher := &fakeFetcher{
		infos: map[string]*extension.Info{
			"http://calc":  {Title: "calc", Description: "desc", Version: "1.1.0", Author: "jv"},
			"http://notes": {Title: "notes", Description: "desc", Version: "2.0.0"},
		},
		errs: map[string]error{"http://broken": errors.New("connection refused")},
	}
	r := New(Config{Store: s, Fetcher: fetcher})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "broken")

	calc, err := s.GetExtension(context.Background(), "calc")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", calc.Version)
	assert.Equal(t, "jv", calc.Author)

	broken, err := s.GetExtension(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", broken.Version, "failed refresh must leave the record alone")
}

func TestRunOnce_RegistryFailure(t *testing.T) {
	s := store.NewMockStore()
	s.Fail()
	r := New(Config{Store: s, Fetcher: &fakeFetcher{}})

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_NoOverlap(t *testing.T) {
	s := store.NewMockStore()
	seed(t, s, "calc", "1.0.0")

	fetcher := &fakeFetcher{
		infos: map[string]*extension.Info{"http://calc": {Title: "calc", Description: "desc", Version: "1.0.0"}},
		block: make(chan struct{}),
	}
	r := New(Config{Store: s, Fetcher: fetcher})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunOnce(context.Background())
	}()

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(fetcher.block)
	<-done
}

func TestStart_Disabled(t *testing.T) {
	r := New(Config{Store: store.NewMockStore(), Fetcher: &fakeFetcher{}})
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	r := New(Config{Store: store.NewMockStore(), Fetcher: &fakeFetcher{}, Schedule: "whenever"})
	assert.Error(t, r.Start(context.Background()))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	s := store.NewMockStore()
	seed(t, s, "calc", "1.0.0")
	fetcher := &fakeFetcher{
		infos: map[string]*extension.Info{"http://calc": {Title: "calc", Description: "desc", Version: "1.2.0"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(Config{Store: s, Fetcher: fetcher, Schedule: "@every 1s"})
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.Eventually(t, func() bool {
		ext, err := s.GetExtension(context.Background(), "calc")
		return err == nil && ext.Version == "1.2.0"
	}, 5*time.Second, 50*time.Millisecond)
}
