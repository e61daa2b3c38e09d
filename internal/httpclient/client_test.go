package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var gotBody, gotType, gotUser, gotPass, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotUser, gotPass, _ = r.BasicAuth()
		gotHeader = r.Header.Get("X-Test")
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	c := NewDefaultClient(time.Second)
	resp, err := c.Send(context.Background(), &Request{
		URL:         srv.URL,
		Body:        []byte("To=%2B1555&Body=hi"),
		ContentType: "application/x-www-form-urlencoded",
		BasicAuth:   &BasicAuth{Username: "AC1", Password: "secret"},
		Headers:     map[string]string{"X-Test": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"sid":"SM1"}`, string(resp.Body))
	assert.Equal(t, "yes", resp.Headers["X-Reply"])
	assert.Equal(t, "To=%2B1555&Body=hi", gotBody)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
	assert.Equal(t, "AC1", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "1", gotHeader)
}

func TestSendDefaultsToJSON(t *testing.T) {
	var gotType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotMethod = r.Method
	}))
	defer srv.Close()

	_, err := NewDefaultClient(0).Send(context.Background(), &Request{URL: srv.URL, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	_, err := NewDefaultClient(time.Second).Send(context.Background(), &Request{URL: srv.URL, Body: []byte(`{}`)})
	require.Error(t, err)

	httpErr, ok := IsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "invalid_payload", string(httpErr.Response))
	assert.True(t, errors.Is(err, ErrHTTPClient))
	assert.Contains(t, err.Error(), "status 400")
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewDefaultClient(time.Second).Send(context.Background(), &Request{URL: url + "/hook?token=abc"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPClient))
	assert.NotContains(t, err.Error(), "token=abc")

	_, ok := IsHTTPError(err)
	assert.False(t, ok)
}

func TestSendRequiresURL(t *testing.T) {
	_, err := NewDefaultClient(time.Second).Send(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPClient))
}
