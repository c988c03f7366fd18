package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/application/answer"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/interfaces/http/dto"
	apperrors "rag-answer-api/pkg/errors"
)

type fakeAnswerService struct {
	lastQuery entity.Query
	result    *entity.AnswerResult
	err       error

	streamDeltas []string
	streamErr    error
}

func (f *fakeAnswerService) Answer(ctx context.Context, query entity.Query) (*entity.AnswerResult, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAnswerService) AnswerStream(ctx context.Context, query entity.Query) (<-chan answer.StreamChunk, <-chan *entity.AnswerResult, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, nil, f.err
	}
	chunks := make(chan answer.StreamChunk, len(f.streamDeltas)+1)
	final := make(chan *entity.AnswerResult, 1)
	go func() {
		defer close(chunks)
		defer close(final)
		for _, d := range f.streamDeltas {
			chunks <- answer.StreamChunk{Delta: d}
		}
		if f.streamErr != nil {
			chunks <- answer.StreamChunk{Err: f.streamErr}
			return
		}
		final <- f.result
	}()
	return chunks, final, nil
}

// closeNotifyRecorder adds http.CloseNotifier support, which
// gin.Context.Stream requires of the ResponseWriter.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool {
	return c.closed
}

func newAnswerRouter(svc AnswerService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAnswerHandler(svc)
	r.POST("/v1/answers", h.CreateAnswer)
	r.POST("/v1/answers/stream", h.StreamAnswer)
	return r
}

func TestCreateAnswerSuccess(t *testing.T) {
	svc := &fakeAnswerService{
		result: &entity.AnswerResult{
			Answer:     "北京是中国的首都。",
			Sources:    []entity.Source{{Content: "北京是中国的首都", SourceID: "doc-1"}},
			Confidence: 0.82,
			ModelUsed:  "gpt-4o-mini",
		},
	}
	r := newAnswerRouter(svc)

	body := `{"question":"中国的首都是哪里？","user_id":"u1","history":[{"role":"user","content":"你好"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response[dto.AnswerResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "北京是中国的首都。", resp.Data.Answer)
	assert.Equal(t, "doc-1", resp.Data.Sources[0].SourceID)

	assert.Equal(t, "u1", svc.lastQuery.UserID)
	require.Len(t, svc.lastQuery.History, 1)
	assert.Equal(t, "user", svc.lastQuery.History[0].Role)
}

func TestCreateAnswerAuthUserOverridesBody(t *testing.T) {
	svc := &fakeAnswerService{result: &entity.AnswerResult{Answer: "ok"}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "token-user")
	})
	r.POST("/v1/answers", NewAnswerHandler(svc).CreateAnswer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers",
		strings.NewReader(`{"question":"q","user_id":"body-user"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token-user", svc.lastQuery.UserID)
}

func TestCreateAnswerMissingQuestion(t *testing.T) {
	svc := &fakeAnswerService{}
	r := newAnswerRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAnswerMapsAppError(t *testing.T) {
	svc := &fakeAnswerService{err: apperrors.ErrBudgetExceeded.WithDetail("daily ceiling reached")}
	r := newAnswerRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers",
		strings.NewReader(`{"question":"q","user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(apperrors.CodeBudgetExceeded), resp.Error.ErrorCode)
	assert.Equal(t, "daily ceiling reached", resp.Error.Details)
}

func TestStreamAnswerEmitsDeltasAndDone(t *testing.T) {
	svc := &fakeAnswerService{
		streamDeltas: []string{"北京", "是首都"},
		result:       &entity.AnswerResult{Answer: "北京是首都", ModelUsed: "gpt-4o-mini"},
	}
	r := newAnswerRouter(svc)

	w := newCloseNotifyRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers/stream",
		strings.NewReader(`{"question":"中国的首都？","user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, "北京")
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, "gpt-4o-mini")
}

func TestStreamAnswerUpstreamError(t *testing.T) {
	svc := &fakeAnswerService{
		streamDeltas: []string{"部分"},
		streamErr:    apperrors.ErrStreamTruncated,
	}
	r := newAnswerRouter(svc)

	w := newCloseNotifyRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answers/stream",
		strings.NewReader(`{"question":"q","user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, "event:error")
	assert.NotContains(t, body, "event:done")
}
