package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBingURLForContainsQuadkey(t *testing.T) {
	p := NewBingProvider("BI", nil, 22, time.Second)
	url := p.URLFor(100, 200, 16)
	assert.Contains(t, url, "virtualearth.net/tiles/a")
	assert.Contains(t, url, ".jpeg?g=0")
}

func TestGoogleURLForContainsZXY(t *testing.T) {
	p := NewGoogleProvider("GO", "123", 22, time.Second)
	url := p.URLFor(100, 200, 16)
	assert.Contains(t, url, "x=200")
	assert.Contains(t, url, "y=100")
	assert.Contains(t, url, "z=16")
}

func TestFetchBytesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	p := NewGoogleProvider("GO", "1", 22, time.Second)
	data, err := p.FetchBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestFetchBytesClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewGoogleProvider("GO", "1", 22, time.Second)
	_, err := p.FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTransient, fe.Kind)
}

func TestFetchBytesClassifiesNotFoundAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewGoogleProvider("GO", "1", 22, time.Second)
	_, err := p.FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindPermanent, fe.Kind)
}

func TestFetchBytesClassifiesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("too-slow"))
	}))
	defer srv.Close()

	p := NewGoogleProvider("GO", "1", 22, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := p.FetchBytes(ctx, srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimeout, fe.Kind)
}
