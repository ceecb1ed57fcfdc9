package web

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	status    int
	title     string
	shot      []byte
	shotErr   error
	navErr    error
	matches   map[string]int
	matchErr  error
	navigated string
}

func (s *fakeSession) Navigate(_ context.Context, target string) (NavigationResult, error) {
	s.navigated = target
	if s.navErr != nil {
		return NavigationResult{}, s.navErr
	}

	return NavigationResult{StatusCode: s.status, Title: s.title}, nil
}

func (s *fakeSession) Screenshot(_ context.Context) ([]byte, error) { return s.shot, s.shotErr }

func (s *fakeSession) CountMatches(_ context.Context, selector string) (int, error) {
	if s.matchErr != nil {
		return 0, s.matchErr
	}

	return s.matches[selector], nil
}

func (s *fakeSession) Close() error { return nil }

// fakeDriver serves a single session regardless of target URL, since
// NewSession no longer receives the target (Navigate does).
type fakeDriver struct {
	next    *fakeSession
	openErr error
}

func (d *fakeDriver) NewSession(_ context.Context, _ Viewport) (BrowserSession, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}

	return d.next, nil
}

type fakeBaselines struct {
	store map[string][]byte
}

func (b *fakeBaselines) GetBaseline(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := b.store[key]

	return data, ok, nil
}

func (b *fakeBaselines) PutBaseline(_ context.Context, key string, data []byte) error {
	if b.store == nil {
		b.store = map[string][]byte{}
	}

	b.store[key] = data

	return nil
}

type fakeCancel struct {
	canceled bool
}

func (c *fakeCancel) IsCancelRequested(_ context.Context, _ string) (bool, error) {
	return c.canceled, nil
}

func TestExecutor_RunSinglePage(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{status: 200, title: "Home", shot: []byte("shot-bytes")}}

	exec := New(driver, &fakeBaselines{}, &fakeCancel{}, func(_, _ []byte) (float64, []byte, error) {
		return 0, nil, nil
	})

	results, err := exec.Run(context.Background(), Request{SessionID: "s1", URL: "https://example.com/"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "Home", results[0].Title)
}

func TestExecutor_RunHonorsCancellation(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{status: 200, shot: []byte("x")}}

	exec := New(driver, &fakeBaselines{}, &fakeCancel{canceled: true}, nil)

	_, err := exec.Run(context.Background(), Request{SessionID: "s1", URL: "https://example.com/"})
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestExecutor_VisualRegressionDetectsMismatch(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{status: 200, shot: []byte("candidate-bytes")}}

	baselines := &fakeBaselines{store: map[string][]byte{
		BaselineKey("checkout", "https://example.com/"): []byte("baseline-bytes"),
	}}

	exec := New(driver, baselines, &fakeCancel{}, func(_, _ []byte) (float64, []byte, error) {
		return 12.5, []byte("diff-bytes"), nil
	})

	results, err := exec.Run(context.Background(), Request{SessionID: "s1", Project: "checkout", URL: "https://example.com/"})
	require.NoError(t, err)
	require.NotNil(t, results[0].VisualMismatch)
	assert.InDelta(t, 12.5, *results[0].VisualMismatch, 0.001)
}

func TestExecutor_AutoBaselineEstablishedWhenMissing(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{status: 200, shot: []byte("first-capture")}}

	baselines := &fakeBaselines{}

	exec := New(driver, baselines, &fakeCancel{}, func(_, _ []byte) (float64, []byte, error) {
		return 0, nil, nil
	})

	_, err := exec.Run(context.Background(), Request{
		SessionID: "s1", Project: "checkout", URL: "https://example.com/", AutoBaseline: true,
	})
	require.NoError(t, err)

	stored, ok := baselines.store[BaselineKey("checkout", "https://example.com/")]
	require.True(t, ok)
	assert.Equal(t, "first-capture", string(stored))
}

func TestExecutor_OpenFailureRecordsError(t *testing.T) {
	driver := &fakeDriver{openErr: errors.New("browser crashed")}

	exec := New(driver, &fakeBaselines{}, &fakeCancel{}, nil)

	results, err := exec.Run(context.Background(), Request{SessionID: "s1", URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "browser crashed", results[0].Error)
}

func TestExecutor_MissingSelectorsFailPage(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{
		status: 200, shot: []byte("x"),
		matches: map[string]int{"#cart": 1},
	}}

	exec := New(driver, &fakeBaselines{}, &fakeCancel{}, nil)

	results, err := exec.Run(context.Background(), Request{
		SessionID: "s1",
		URL:       "https://example.com/",
		Selectors: map[string][]string{"https://example.com/": {"#cart", "#checkout-button"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, []string{"#checkout-button"}, results[0].MissingSelectors)
}

func TestExecutor_AllSelectorsPresentPasses(t *testing.T) {
	driver := &fakeDriver{next: &fakeSession{
		status: 200, shot: []byte("x"),
		matches: map[string]int{"#cart": 2, "#checkout-button": 1},
	}}

	exec := New(driver, &fakeBaselines{}, &fakeCancel{}, nil)

	results, err := exec.Run(context.Background(), Request{
		SessionID: "s1",
		URL:       "https://example.com/",
		Selectors: map[string][]string{"https://example.com/": {"#cart", "#checkout-button"}},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Passed)
	assert.Empty(t, results[0].MissingSelectors)
}
