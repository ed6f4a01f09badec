package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

// mockReturn unpacks a (pointer, error) pair from recorded mock arguments.
func mockReturn[T any](args mock.Arguments) (*T, error) {
	if v := args.Get(0); v != nil {
		return v.(*T), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return mockReturn[notionapi.DatabaseQueryResponse](m.Called(ctx, dbID, req))
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return mockReturn[notionapi.Page](m.Called(ctx, req))
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return mockReturn[notionapi.Page](m.Called(ctx, pageID, req))
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	c := NewClient("test-token")
	assert.NotNil(t, c)
	var _ Client = c //nolint:staticcheck // interface compliance check
}

func TestNewClientWithRateLimit(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10))
	assert.NotNil(t, c)

	nc, ok := c.(*throttledClient)
	assert.True(t, ok)
	assert.NotNil(t, nc.limiter)
	assert.InDelta(t, 10.0, float64(nc.limiter.Limit()), 0.001)
}

func TestNewClientRateLimitDisabled(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0))

	nc, ok := c.(*throttledClient)
	assert.True(t, ok)
	assert.Nil(t, nc.limiter)

	// wait must be a no-op when the limiter is disabled.
	assert.NoError(t, nc.wait(context.Background()))
}

func TestWaitCancelledContext(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0.001))
	nc := c.(*throttledClient)

	// Drain the single burst token so the next wait would block.
	assert.NoError(t, nc.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, nc.wait(ctx))
}

func TestCreatePageError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError)

	page, err := mc.CreatePage(ctx, &notionapi.PageCreateRequest{})
	assert.Error(t, err)
	assert.Nil(t, page)
	mc.AssertExpectations(t)
}
