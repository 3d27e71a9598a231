package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carebridge/features/query"
	"carebridge/internal/retrieval"
)

type MockSearcher struct{ mock.Mock }

func (m *MockSearcher) Query(ctx context.Context, q string, opts *retrieval.QueryOptions) (*retrieval.Result, error) {
	args := m.Called(ctx, q, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Result), args.Error(1)
}

func TestHandler_Search(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		searcher := new(MockSearcher)
		handler := query.NewHandler(searcher)

		searcher.On("Query", mock.Anything, "insulin storage", mock.Anything).Return(&retrieval.Result{
			Documents: []retrieval.Document{
				{Content: "Store insulin refrigerated.", ChunkID: "chunk_0", DocumentID: "doc-1", Score: 0.91},
			},
			Query:        "insulin storage",
			TotalResults: 1,
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query": "insulin storage"}`))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Data retrieval.Result `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Documents, 1)
		assert.Equal(t, "chunk_0", resp.Data.Documents[0].ChunkID)
	})

	t.Run("ForwardsOverrides", func(t *testing.T) {
		searcher := new(MockSearcher)
		handler := query.NewHandler(searcher)

		searcher.On("Query", mock.Anything, "diet", mock.MatchedBy(func(opts *retrieval.QueryOptions) bool {
			return opts.TopK != nil && *opts.TopK == 3 &&
				opts.Threshold != nil && *opts.Threshold == float32(0.5) &&
				assert.ObjectsAreEqual(retrieval.FilterValues{"nutrition"}, opts.Filters["category"])
		})).Return(&retrieval.Result{Query: "diet"}, nil)

		body := `{"query": "diet", "top_k": 3, "similarity_threshold": 0.5, "filters": {"category": "nutrition"}}`
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		searcher.AssertExpectations(t)
	})

	t.Run("MembershipFilter", func(t *testing.T) {
		searcher := new(MockSearcher)
		handler := query.NewHandler(searcher)

		searcher.On("Query", mock.Anything, "diet", mock.MatchedBy(func(opts *retrieval.QueryOptions) bool {
			return assert.ObjectsAreEqual(retrieval.FilterValues{"diabetes", "cardiology"}, opts.Filters["category"])
		})).Return(&retrieval.Result{Query: "diet"}, nil)

		body := `{"query": "diet", "filters": {"category": ["diabetes", "cardiology"]}}`
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		searcher.AssertExpectations(t)
	})

	t.Run("InvalidFilterValue", func(t *testing.T) {
		handler := query.NewHandler(new(MockSearcher))

		body := `{"query": "diet", "filters": {"category": 7}}`
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		searcher := new(MockSearcher)
		handler := query.NewHandler(searcher)

		searcher.On("Query", mock.Anything, "", mock.Anything).
			Return(nil, fmt.Errorf("%w: empty query", retrieval.ErrValidation))

		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query": ""}`))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
		assert.Contains(t, rr.Body.String(), "correlationId")
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		handler := query.NewHandler(new(MockSearcher))

		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("not json"))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("InternalError", func(t *testing.T) {
		searcher := new(MockSearcher)
		handler := query.NewHandler(searcher)

		searcher.On("Query", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("embedding provider down"))

		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query": "diet"}`))
		rr := httptest.NewRecorder()

		handler.Search(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "embedding provider down")
	})
}
