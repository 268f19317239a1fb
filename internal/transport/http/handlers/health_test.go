package handlers_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthLiveAlwaysOK(t *testing.T) {
	api := newTestAPI(t)
	api.pub.NotReady = true
	api.repo.PingErr = errors.New("down")

	resp, err := http.Get(api.srv.URL + "/health/live")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthReadyOK(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Get(api.srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthReadyPublisherNotReady(t *testing.T) {
	api := newTestAPI(t)
	api.pub.NotReady = true

	resp, err := http.Get(api.srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthReadyStorePingFails(t *testing.T) {
	api := newTestAPI(t)
	api.repo.PingErr = errors.New("no reachable servers")

	resp, err := http.Get(api.srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
