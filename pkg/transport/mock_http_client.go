package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MockHTTPClient is a mock implementation of HTTPClient for testing
type MockHTTPClient struct {
	// ResponseMap maps endpoint paths to their mock responses
	ResponseMap map[string]MockResponse

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

// MockResponse represents a mock HTTP response
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
	Delay      time.Duration // Simulates response delay for timeout testing
}

// NewMockHTTPClient creates a new MockHTTPClient that accepts everything
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		ResponseMap: map[string]MockResponse{},
	}
}

// SetResponse sets a mock response for a specific endpoint path
func (m *MockHTTPClient) SetResponse(endpoint string, response MockResponse) {
	m.ResponseMap[endpoint] = response
}

// Requests returns the requests seen so far
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// RequestBodies returns the captured request bodies in call order
func (m *MockHTTPClient) RequestBodies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.bodies...)
}

// Do implements the HTTPClient interface
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()

	// Default to accepted when no response is scripted for the path
	mockResp, exists := m.ResponseMap[req.URL.Path]
	if !exists {
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	}

	// If there's a delay configured, simulate it
	if mockResp.Delay > 0 {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(mockResp.Delay):
		}
	}

	// If there's an error configured, return it
	if mockResp.Error != nil {
		return nil, mockResp.Error
	}

	return &http.Response{
		StatusCode: mockResp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader([]byte(mockResp.Body))),
		Header:     make(http.Header),
	}, nil
}
